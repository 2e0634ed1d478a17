package httpserver

import (
	"net/http"
	"strings"

	"wa-gateway/internal/llm"
)

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
	Prompt   string        `json:"prompt"`
	System   string        `json:"system"`
}

func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "llm unavailable")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages := req.Messages
	if len(messages) == 0 && strings.TrimSpace(req.Prompt) != "" {
		if req.System != "" {
			messages = append(messages, llm.Message{Role: "system", Content: req.System})
		}
		messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})
	}
	if err := llm.Validate(messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.deps.LLM.Chat(r.Context(), messages)
	if err != nil {
		s.logger.Error("llm chat failed", "error", err)
		s.metrics.Error("llm")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
