package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"wa-gateway/internal/repo"
)

func TestCreateSession(t *testing.T) {
	store := newSQLiteRepo(t)
	h := newTestHandler(Dependencies{Repository: store, Sessions: newFakeSessions()}, Options{})

	rec := doJSON(t, h, http.MethodPost, "/whatsapp/create-session", map[string]string{"session_id": "shop"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created repo.Session
	decodeBody(t, rec, &created)
	if created.SessionID != "shop" || created.Status != repo.StatusNew {
		t.Fatalf("unexpected session %+v", created)
	}

	rec = doJSON(t, h, http.MethodPost, "/whatsapp/create-session", map[string]string{"session_id": "shop"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}

// racingRepo reports the id as free but loses the insert, as the second of
// two concurrent creates would.
type racingRepo struct {
	repo.Repository
}

func (racingRepo) SessionExists(context.Context, string) (bool, error) { return false, nil }

func (racingRepo) CreateSession(_ context.Context, id string) (*repo.Session, error) {
	return nil, errors.Join(errors.New("create session "+id), repo.ErrSessionExists)
}

func TestCreateSessionRaceReportsConflict(t *testing.T) {
	h := newTestHandler(Dependencies{Repository: racingRepo{}, Sessions: newFakeSessions()}, Options{})
	rec := doJSON(t, h, http.MethodPost, "/whatsapp/create-session", map[string]string{"session_id": "shop"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSessionEndpointsRequireSessionID(t *testing.T) {
	sessions := newFakeSessions()
	h := newTestHandler(Dependencies{Repository: untouchableRepo{}, Sessions: sessions}, Options{})

	for _, path := range []string{"/whatsapp/create-session", "/whatsapp/start-session"} {
		for _, body := range []any{nil, map[string]string{}, map[string]string{"session_id": "  "}} {
			rec := doJSON(t, h, http.MethodPost, path, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s %v: expected 400, got %d", path, body, rec.Code)
			}
			var resp map[string]string
			decodeBody(t, rec, &resp)
			if resp["error"] == "" {
				t.Fatalf("%s: expected error message", path)
			}
		}
	}
	if sessions.callCount() != 0 {
		t.Fatalf("expected no session manager calls, got %d", sessions.callCount())
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteRepo(t)
	for _, id := range []string{"a", "b"} {
		if _, err := store.CreateSession(ctx, id); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	h := newTestHandler(Dependencies{Repository: store, Sessions: newFakeSessions()}, Options{})

	rec := doJSON(t, h, http.MethodGet, "/whatsapp/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sessions []repo.Session
	decodeBody(t, rec, &sessions)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteRepo(t)
	if _, err := store.CreateSession(ctx, "fresh"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateSession(ctx, "paired"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetSessionDevice(ctx, "paired", "628999:3@s.whatsapp.net"); err != nil {
		t.Fatalf("set device: %v", err)
	}
	sessions := newFakeSessions()
	h := newTestHandler(Dependencies{Repository: store, Sessions: sessions}, Options{})

	if rec := doJSON(t, h, http.MethodPost, "/whatsapp/start-session", map[string]string{"session_id": "fresh"}); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/whatsapp/start-session", map[string]string{"session_id": "paired"}); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if sessions.started["fresh"] != "" || sessions.started["paired"] != "628999:3@s.whatsapp.net" {
		t.Fatalf("unexpected start calls %v", sessions.started)
	}

	if rec := doJSON(t, h, http.MethodPost, "/whatsapp/start-session", map[string]string{"session_id": "ghost"}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	sessions.err = errors.New("websocket dial failed")
	rec := doJSON(t, h, http.MethodPost, "/whatsapp/start-session", map[string]string{"session_id": "fresh"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["error"] != "websocket dial failed" {
		t.Fatalf("expected underlying message, got %q", resp["error"])
	}
}

func TestQRLookupOrder(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteRepo(t)
	for _, id := range []string{"live", "cached", "stored", "connected"} {
		if _, err := store.CreateSession(ctx, id); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_ = store.UpdateSessionQR(ctx, "live", "db-live")
	_ = store.UpdateSessionQR(ctx, "stored", "db-stored")
	_ = store.UpdateSessionQR(ctx, "connected", "db-old")
	_ = store.MarkSessionConnected(ctx, "connected", time.Now())

	sessions := newFakeSessions()
	sessions.qr["live"] = "mem-live"
	cache := &fakeQRCache{codes: map[string]string{"cached": "redis-cached"}}
	h := newTestHandler(Dependencies{Repository: store, Sessions: sessions, QRCache: cache}, Options{})

	cases := map[string]string{"live": "mem-live", "cached": "redis-cached", "stored": "db-stored"}
	for id, want := range cases {
		rec := doJSON(t, h, http.MethodGet, "/whatsapp/qr/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", id, rec.Code)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["qr"] != want {
			t.Fatalf("%s: expected %q, got %q", id, want, body["qr"])
		}
	}

	for _, id := range []string{"connected", "ghost"} {
		if rec := doJSON(t, h, http.MethodGet, "/whatsapp/qr/"+id, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", id, rec.Code)
		}
	}
}

func TestQRImage(t *testing.T) {
	sessions := newFakeSessions()
	sessions.qr["shop"] = "2@abcdef,ghijkl"
	h := newTestHandler(Dependencies{Repository: newSQLiteRepo(t), Sessions: sessions}, Options{})

	rec := doJSON(t, h, http.MethodGet, "/whatsapp/qr-image/shop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("expected png body")
	}

	if rec := doJSON(t, h, http.MethodGet, "/whatsapp/qr-image/ghost", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	sessions := newFakeSessions()
	sessions.connected["shop"] = true
	h := newTestHandler(Dependencies{Sessions: sessions}, Options{})

	for id, want := range map[string]bool{"shop": true, "other": false} {
		rec := doJSON(t, h, http.MethodGet, "/whatsapp/status/"+id, nil)
		var body struct {
			Connected bool `json:"connected"`
		}
		decodeBody(t, rec, &body)
		if body.Connected != want {
			t.Fatalf("%s: expected connected=%v", id, want)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteRepo(t)
	if _, err := store.CreateSession(ctx, "shop"); err != nil {
		t.Fatalf("create: %v", err)
	}
	sessions := newFakeSessions()
	cache := &fakeQRCache{}
	h := newTestHandler(Dependencies{Repository: store, Sessions: sessions, QRCache: cache}, Options{})

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodDelete, "/whatsapp/delete-session/shop", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("delete %d: expected 200, got %d", i, rec.Code)
		}
	}
	if _, err := store.GetSession(ctx, "shop"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected row removed, got %v", err)
	}
	if len(sessions.removed) != 2 || len(cache.cleared) != 2 {
		t.Fatalf("expected manager and cache cleanup, removed=%v cleared=%v", sessions.removed, cache.cleared)
	}
}
