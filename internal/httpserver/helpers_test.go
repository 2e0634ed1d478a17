package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"
	"wa-gateway/migrations"

	"go.mau.fi/whatsmeow/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSessions struct {
	mu        sync.Mutex
	calls     int
	started   map[string]string
	removed   []string
	connected map[string]bool
	qr        map[string]string
	texts     []sentMessage
	media     []sentMessage
	err       error
}

type sentMessage struct {
	session string
	to      types.JID
	text    string
	media   wa.Media
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		started:   map[string]string{},
		connected: map[string]bool{},
		qr:        map[string]string{},
	}
}

func (f *fakeSessions) Start(_ context.Context, sessionID, deviceJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.started[sessionID] = deviceJID
	return nil
}

func (f *fakeSessions) QR(sessionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.qr[sessionID]
	return code, ok
}

func (f *fakeSessions) IsConnected(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[sessionID]
}

func (f *fakeSessions) Remove(_ context.Context, sessionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.removed = append(f.removed, sessionID)
	return nil
}

func (f *fakeSessions) SendText(_ context.Context, sessionID string, to types.JID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, sentMessage{session: sessionID, to: to, text: text})
	return nil
}

func (f *fakeSessions) SendMedia(_ context.Context, sessionID string, to types.JID, media wa.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.media = append(f.media, sentMessage{session: sessionID, to: to, media: media})
	return nil
}

func (f *fakeSessions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQRCache struct {
	codes   map[string]string
	cleared []string
}

func (f *fakeQRCache) QR(_ context.Context, sessionID string) (string, bool, error) {
	code, ok := f.codes[sessionID]
	return code, ok, nil
}

func (f *fakeQRCache) ClearQR(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

// untouchableRepo panics on any call; a handler reaching the store turns
// into a 500 through the recoverer.
type untouchableRepo struct {
	repo.Repository
}

func newSQLiteRepo(t *testing.T) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, ":memory:", discardLogger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func newTestHandler(deps Dependencies, opts Options) http.Handler {
	return New(opts, deps, discardLogger, nil).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField, fileName string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		part, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}
