package httpserver

import (
	"errors"
	"net/http"

	"wa-gateway/internal/broadcast"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStartBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast unavailable")
		return
	}
	var req broadcast.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.deps.Broadcaster.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, broadcast.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("start broadcast failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast unavailable")
		return
	}
	run, ok, err := s.deps.Broadcaster.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("load broadcast failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "broadcast not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
