package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"wa-gateway/internal/wa"
)

type sendTextRequest struct {
	Session   string `json:"session"`
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session := firstNonEmpty(req.Session, req.SessionID)
	to := strings.TrimSpace(req.To)
	if session == "" || to == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "session, to and text are required")
		return
	}
	jid, err := wa.ParseRecipient(to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Sessions.SendText(r.Context(), session, jid, req.Text); err != nil {
		s.writeSendError(w, session, "text", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "to": jid.String()})
}

func (s *Server) handleSendMedia(kind wa.MediaKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "multipart form required: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		session := firstNonEmpty(r.FormValue("session"), r.FormValue("sessionId"))
		to := strings.TrimSpace(r.FormValue("to"))
		fileName := strings.TrimSpace(r.FormValue("filename"))
		if session == "" || to == "" {
			writeError(w, http.StatusBadRequest, "session and to are required")
			return
		}
		if kind == wa.MediaDocument && fileName == "" {
			writeError(w, http.StatusBadRequest, "filename is required")
			return
		}
		data, header, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		jid, err := wa.ParseRecipient(to)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		media := wa.Media{
			Kind:     kind,
			Data:     data,
			MimeType: header.Header.Get("Content-Type"),
			FileName: fileName,
			Caption:  r.FormValue("caption"),
		}
		if err := s.deps.Sessions.SendMedia(r.Context(), session, jid, media); err != nil {
			s.writeSendError(w, session, string(kind), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "to": jid.String(), "type": kind})
	}
}

// readUpload takes the media part from either the "file" or "media" field.
func readUpload(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	for _, field := range []string{"file", "media"} {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", field, err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", field, err)
		}
		if len(data) == 0 {
			return nil, nil, errors.New("media file is empty")
		}
		return data, header, nil
	}
	return nil, nil, errors.New("media file is required")
}

func (s *Server) writeSendError(w http.ResponseWriter, session, kind string, err error) {
	s.logger.Error("send message failed", "session", session, "type", kind, "error", err)
	s.metrics.Error("http")
	switch {
	case errors.Is(err, wa.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wa.ErrNotLoggedIn):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
