package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const sessionColumns = `session_id, status, last_qr, last_connected_at, device_jid, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.SessionID, &s.Status, &s.LastQR, &s.LastConnectedAt, &s.DeviceJID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns every registered session ordered by creation time.
func (r *PostgresRepository) ListSessions(ctx context.Context) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM whatsapp_sessions ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession loads one session row.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM whatsapp_sessions WHERE session_id = $1 LIMIT 1;`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, notFound(err))
	}
	return s, nil
}

// SessionExists reports whether id is registered.
func (r *PostgresRepository) SessionExists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM whatsapp_sessions WHERE session_id = $1);`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check session %s: %w", id, err)
	}
	return exists, nil
}

// CreateSession inserts a fresh session row in status new.
func (r *PostgresRepository) CreateSession(ctx context.Context, id string) (*Session, error) {
	q := `
INSERT INTO whatsapp_sessions (session_id, status)
VALUES ($1, $2)
RETURNING ` + sessionColumns + `;`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, StatusNew))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create session %s: %w", id, ErrSessionExists)
		}
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	return s, nil
}

// DeleteSession removes the row; deleting a missing id is not an error.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	const q = `DELETE FROM whatsapp_sessions WHERE session_id = $1;`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// UpdateSessionQR stores a refreshed pairing code and moves the session to pending.
func (r *PostgresRepository) UpdateSessionQR(ctx context.Context, id, qr string) error {
	const q = `
UPDATE whatsapp_sessions
SET status = $2, last_qr = $3, updated_at = NOW()
WHERE session_id = $1;`
	return r.execSession(ctx, "update session qr", q, id, StatusPending, qr)
}

// MarkSessionConnected moves the session to connected and stamps the time.
func (r *PostgresRepository) MarkSessionConnected(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE whatsapp_sessions
SET status = $2, last_connected_at = $3, updated_at = NOW()
WHERE session_id = $1;`
	return r.execSession(ctx, "mark session connected", q, id, StatusConnected, at)
}

// SetSessionDevice records the paired device identity.
func (r *PostgresRepository) SetSessionDevice(ctx context.Context, id, deviceJID string) error {
	const q = `UPDATE whatsapp_sessions SET device_jid = $2, updated_at = NOW() WHERE session_id = $1;`
	return r.execSession(ctx, "set session device", q, id, deviceJID)
}

// ResetSession returns a logged-out session to new.
func (r *PostgresRepository) ResetSession(ctx context.Context, id string) error {
	const q = `
UPDATE whatsapp_sessions
SET status = $2, last_qr = NULL, device_jid = NULL, updated_at = NOW()
WHERE session_id = $1;`
	return r.execSession(ctx, "reset session", q, id, StatusNew)
}

func (r *PostgresRepository) execSession(ctx context.Context, op, q string, id string, args ...any) error {
	ct, err := r.pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
