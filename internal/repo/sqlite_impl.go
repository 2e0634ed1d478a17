package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Sessions --

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*Session, error) {
	var s Session
	var lastConnected sql.NullTime
	if err := row.Scan(&s.SessionID, &s.Status, &s.LastQR, &lastConnected, &s.DeviceJID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if lastConnected.Valid {
		t := lastConnected.Time
		s.LastConnectedAt = &t
	}
	return &s, nil
}

func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM whatsapp_sessions ORDER BY created_at ASC, session_id ASC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
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

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM whatsapp_sessions WHERE session_id = ? LIMIT 1;`
	s, err := scanSQLiteSession(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, sqlNotFound(err))
	}
	return s, nil
}

func (r *SQLiteRepository) SessionExists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM whatsapp_sessions WHERE session_id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("check session %s: %w", id, err)
	}
	return count > 0, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, id string) (*Session, error) {
	const q = `INSERT INTO whatsapp_sessions (session_id, status) VALUES (?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, StatusNew); err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("create session %s: %w", id, ErrSessionExists)
		}
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	return r.GetSession(ctx, id)
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM whatsapp_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateSessionQR(ctx context.Context, id, qr string) error {
	const q = `UPDATE whatsapp_sessions SET status = ?, last_qr = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?;`
	return r.execSession(ctx, "update session qr", id, q, StatusPending, qr, id)
}

func (r *SQLiteRepository) MarkSessionConnected(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE whatsapp_sessions SET status = ?, last_connected_at = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?;`
	return r.execSession(ctx, "mark session connected", id, q, StatusConnected, at.UTC(), id)
}

func (r *SQLiteRepository) SetSessionDevice(ctx context.Context, id, deviceJID string) error {
	const q = `UPDATE whatsapp_sessions SET device_jid = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?;`
	return r.execSession(ctx, "set session device", id, q, deviceJID, id)
}

func (r *SQLiteRepository) ResetSession(ctx context.Context, id string) error {
	const q = `UPDATE whatsapp_sessions SET status = ?, last_qr = NULL, device_jid = NULL, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?;`
	return r.execSession(ctx, "reset session", id, q, StatusNew, id)
}

func (r *SQLiteRepository) execSession(ctx context.Context, op, id, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// -- Customers --

func (r *SQLiteRepository) queryCustomers(ctx context.Context, q string, args ...any) ([]Customer, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (r *SQLiteRepository) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	q := `SELECT id, name, phone, created_at FROM customers`
	args := []any{}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q += ` WHERE name LIKE ? OR phone LIKE ?`
		args = append(args, "%"+s+"%", "%"+s+"%")
	}
	q += ` ORDER BY name ASC LIMIT ? OFFSET ?;`
	args = append(args, normaliseLimit(filter.Limit), max(filter.Offset, 0))

	customers, err := r.queryCustomers(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

func (r *SQLiteRepository) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := r.db.QueryRowContext(ctx, `SELECT id, name, phone, created_at FROM customers WHERE id = ? LIMIT 1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, sqlNotFound(err))
	}
	return &c, nil
}

func (r *SQLiteRepository) GetCustomersByIDs(ctx context.Context, ids []string) ([]Customer, error) {
	if len(ids) == 0 {
		return []Customer{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id, name, phone, created_at FROM customers WHERE id IN (` + placeholders + `) ORDER BY name ASC;`
	customers, err := r.queryCustomers(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get customers by ids: %w", err)
	}
	return customers, nil
}

// InsertCustomer seeds a customer row. Customers are owned by the hosted
// store; this exists for local development and tests.
func (r *SQLiteRepository) InsertCustomer(ctx context.Context, name, phone string) (*Customer, error) {
	id := randomUUID()
	if _, err := r.db.ExecContext(ctx, `INSERT INTO customers (id, name, phone) VALUES (?, ?, ?)`, id, name, phone); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return r.GetCustomer(ctx, id)
}

// -- Orders --

func (r *SQLiteRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	q := `SELECT id, customer_id, status, total, notes, created_at FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?;`
	args = append(args, normaliseLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.Notes, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx, `SELECT id, customer_id, status, total, notes, created_at FROM orders WHERE id = ? LIMIT 1`, id).
		Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.Notes, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, sqlNotFound(err))
	}
	return &o, nil
}

// InsertOrder seeds an order row for local development and tests.
func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	id := randomUUID()
	const q = `INSERT INTO orders (id, customer_id, status, total, notes) VALUES (?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, order.CustomerID, order.Status, order.Total, order.Notes); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return r.GetOrder(ctx, id)
}

// -- Price history --

func (r *SQLiteRepository) ListPriceHistory(ctx context.Context, filter PriceFilter) ([]PricePoint, error) {
	var (
		where []string
		args  []any
	)
	if filter.Product != "" {
		where = append(where, "product = ?")
		args = append(args, filter.Product)
	}
	if filter.Since != nil {
		where = append(where, "recorded_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	q := `SELECT id, product, price, recorded_at FROM price_history`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY recorded_at DESC LIMIT ?;`
	args = append(args, normaliseLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	points := []PricePoint{}
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.ID, &p.Product, &p.Price, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return points, nil
}

func (r *SQLiteRepository) InsertPricePoint(ctx context.Context, point PricePoint) (*PricePoint, error) {
	id := randomUUID()
	recordedAt := point.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	const q = `INSERT INTO price_history (id, product, price, recorded_at) VALUES (?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, point.Product, point.Price, recordedAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert price point: %w", err)
	}
	inserted := PricePoint{ID: id, Product: point.Product, Price: point.Price, RecordedAt: recordedAt.UTC()}
	return &inserted, nil
}

func randomUUID() string {
	return uuid.NewString()
}
