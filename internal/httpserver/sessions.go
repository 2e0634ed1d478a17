package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"wa-gateway/internal/qrcode"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"

	"github.com/go-chi/chi/v5"
)

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Repository.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ctx := r.Context()
	exists, err := s.deps.Repository.SessionExists(ctx, id)
	if err != nil {
		s.logger.Error("check session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "session already exists")
		return
	}

	session, err := s.deps.Repository.CreateSession(ctx, id)
	if err != nil {
		// The primary key rejects the losing side of a concurrent create.
		if errors.Is(err, repo.ErrSessionExists) {
			writeError(w, http.StatusConflict, "session already exists")
			return
		}
		s.logger.Error("create session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("session created", "session", id)
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	session, err := s.deps.Repository.GetSession(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, "load session failed", err)
		return
	}

	if s.deps.Sessions.IsConnected(id) {
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": repo.StatusConnected})
		return
	}
	deviceJID := ""
	if session.DeviceJID != nil {
		deviceJID = *session.DeviceJID
	}
	if err := s.deps.Sessions.Start(r.Context(), id, deviceJID); err != nil {
		s.logger.Error("start session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("session starting", "session", id, "restoring", deviceJID != "")
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": id, "status": "starting"})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	code, ok := s.lookupQR(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "qr not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "qr": code})
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	code, ok := s.lookupQR(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "qr not available")
		return
	}
	img, err := qrcode.PNG(code)
	if err != nil {
		s.logger.Error("render qr failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// lookupQR prefers the live client, then Redis, then the stored row.
func (s *Server) lookupQR(ctx context.Context, id string) (string, bool) {
	if code, ok := s.deps.Sessions.QR(id); ok {
		return code, true
	}
	if s.deps.QRCache != nil {
		code, ok, err := s.deps.QRCache.QR(ctx, id)
		if err != nil {
			s.logger.Warn("read qr cache failed", "session", id, "error", err)
		} else if ok {
			return code, true
		}
	}
	session, err := s.deps.Repository.GetSession(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("load session qr failed", "session", id, "error", err)
		}
		return "", false
	}
	if session.Status == repo.StatusConnected || session.LastQR == nil || *session.LastQR == "" {
		return "", false
	}
	return *session.LastQR, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "connected": s.deps.Sessions.IsConnected(id)})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	deviceJID := ""
	session, err := s.deps.Repository.GetSession(ctx, id)
	switch {
	case err == nil:
		if session.DeviceJID != nil {
			deviceJID = *session.DeviceJID
		}
	case !errors.Is(err, repo.ErrNotFound):
		s.logger.Error("load session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	removeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.deps.Sessions.Remove(removeCtx, id, deviceJID); err != nil && !errors.Is(err, wa.ErrSessionNotFound) {
		s.logger.Error("stop session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Repository.DeleteSession(ctx, id); err != nil {
		s.logger.Error("delete session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.deps.QRCache != nil {
		if err := s.deps.QRCache.ClearQR(ctx, id); err != nil {
			s.logger.Warn("clear qr cache failed", "session", id, "error", err)
		}
	}
	s.logger.Info("session deleted", "session", id)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "deleted": true})
}

func (s *Server) writeRepoError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
