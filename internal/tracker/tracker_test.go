package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wa-gateway/internal/automation"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"
	"wa-gateway/migrations"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mau.fi/whatsmeow/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeMessenger struct {
	mu    sync.Mutex
	ops   []string
	sends []sentText
	sent  chan sentText
}

type sentText struct {
	session string
	to      types.JID
	text    string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(chan sentText, 32)}
}

func (f *fakeMessenger) MarkRead(_ context.Context, _ string, msg wa.InboundMessage) error {
	f.record("read:" + string(msg.ID))
	return nil
}

func (f *fakeMessenger) SetTyping(_ context.Context, _ string, _ types.JID, typing bool) error {
	if typing {
		f.record("typing:on")
	} else {
		f.record("typing:off")
	}
	return nil
}

func (f *fakeMessenger) SendText(_ context.Context, sessionID string, to types.JID, text string) error {
	f.record("send:" + text)
	s := sentText{session: sessionID, to: to, text: text}
	f.mu.Lock()
	f.sends = append(f.sends, s)
	f.mu.Unlock()
	f.sent <- s
	return nil
}

func (f *fakeMessenger) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeMessenger) snapshot() ([]string, []sentText) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...), append([]sentText(nil), f.sends...)
}

type fakeForwarder struct {
	mu       sync.Mutex
	requests []automation.Request
	handle   func(automation.Request) (automation.Reply, error)
}

func (f *fakeForwarder) Forward(_ context.Context, in automation.Request) (automation.Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, in)
	handle := f.handle
	f.mu.Unlock()
	if handle == nil {
		return automation.Reply{Output: "ok", HasOutput: true}, nil
	}
	return handle(in)
}

func (f *fakeForwarder) calls() []automation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]automation.Request(nil), f.requests...)
}

type fakeQRCache struct {
	mu    sync.Mutex
	codes map[string]string
}

func (f *fakeQRCache) SetQR(_ context.Context, sessionID, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		f.codes = map[string]string{}
	}
	f.codes[sessionID] = code
	return nil
}

type harness struct {
	store     *repo.SQLiteRepository
	messenger *fakeMessenger
	forwarder *fakeForwarder
	qr        *fakeQRCache
	tracker   *Tracker
}

func newHarness(t *testing.T, sessions ...string) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, ":memory:", discardLogger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, id := range sessions {
		if _, err := store.CreateSession(ctx, id); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	h := &harness{
		store:     store,
		messenger: newFakeMessenger(),
		forwarder: &fakeForwarder{},
		qr:        &fakeQRCache{},
	}
	h.tracker = New(Config{
		QueueDepth:     4,
		TypingDuration: time.Millisecond,
		FallbackReply:  "fallback",
		NoReply:        "no reply",
		QRCacheTTL:     time.Minute,
	}, store, h.qr, h.messenger, h.forwarder, discardLogger, nil)
	return h
}

// run feeds events through a closed channel and returns once every worker
// has drained.
func (h *harness) run(events ...wa.Event) {
	ch := make(chan wa.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	h.tracker.Run(context.Background(), ch)
}

func (h *harness) session(t *testing.T, id string) *repo.Session {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func inbound(id, text string) wa.InboundMessage {
	jid := types.NewJID("628111", types.DefaultUserServer)
	return wa.InboundMessage{
		ID:       types.MessageID(id),
		Chat:     jid,
		Sender:   jid,
		PushName: "Budi",
		Text:     text,
	}
}

func TestConnectedFromAnyState(t *testing.T) {
	h := newHarness(t, "fresh", "pairing")
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	h.tracker.now = func() time.Time { return at }

	h.run(
		wa.Connected{Session: "fresh"},
		wa.QRUpdated{Session: "pairing", Code: "qr-1"},
		wa.Connected{Session: "pairing"},
	)

	for _, id := range []string{"fresh", "pairing"} {
		s := h.session(t, id)
		if s.Status != repo.StatusConnected {
			t.Fatalf("%s: expected connected, got %s", id, s.Status)
		}
		if s.LastConnectedAt == nil || !s.LastConnectedAt.Equal(at) {
			t.Fatalf("%s: expected last_connected_at %s, got %v", id, at, s.LastConnectedAt)
		}
	}
}

func TestQRUpdatedOverwritesEvenWhenConnected(t *testing.T) {
	h := newHarness(t, "shop")

	h.run(
		wa.QRUpdated{Session: "shop", Code: "qr-1"},
		wa.Connected{Session: "shop"},
		wa.QRUpdated{Session: "shop", Code: "qr-2"},
	)

	s := h.session(t, "shop")
	if s.Status != repo.StatusPending {
		t.Fatalf("expected pending after re-pairing, got %s", s.Status)
	}
	if s.LastQR == nil || *s.LastQR != "qr-2" {
		t.Fatalf("expected last_qr qr-2, got %v", s.LastQR)
	}
	if h.qr.codes["shop"] != "qr-2" {
		t.Fatalf("expected cached qr-2, got %q", h.qr.codes["shop"])
	}
}

func TestPairedThenLoggedOut(t *testing.T) {
	h := newHarness(t, "shop")
	device := types.JID{User: "628999", Server: types.DefaultUserServer, Device: 12}

	h.run(wa.Paired{Session: "shop", JID: device}, wa.Connected{Session: "shop"})
	s := h.session(t, "shop")
	if s.DeviceJID == nil || *s.DeviceJID != device.String() {
		t.Fatalf("expected device %s, got %v", device, s.DeviceJID)
	}

	h.run(wa.LoggedOut{Session: "shop"})
	s = h.session(t, "shop")
	if s.Status != repo.StatusNew || s.DeviceJID != nil || s.LastQR != nil {
		t.Fatalf("expected reset session, got %+v", s)
	}
}

func TestDisconnectedLeavesStatus(t *testing.T) {
	h := newHarness(t, "shop")
	h.run(wa.Connected{Session: "shop"}, wa.Disconnected{Session: "shop"})
	if s := h.session(t, "shop"); s.Status != repo.StatusConnected {
		t.Fatalf("expected status to stay connected, got %s", s.Status)
	}
}

func TestSelfEchoIsSuppressed(t *testing.T) {
	h := newHarness(t, "shop")
	msg := inbound("m1", "my own message")
	msg.FromMe = true

	h.run(wa.MessageReceived{Session: "shop", Message: msg})

	if calls := h.forwarder.calls(); len(calls) != 0 {
		t.Fatalf("expected no webhook calls, got %d", len(calls))
	}
	if ops, _ := h.messenger.snapshot(); len(ops) != 0 {
		t.Fatalf("expected no messenger activity, got %v", ops)
	}
}

func TestRelayStepOrder(t *testing.T) {
	h := newHarness(t, "shop")
	h.forwarder.handle = func(in automation.Request) (automation.Reply, error) {
		h.messenger.record("forward:" + in.Text)
		return automation.Reply{Output: "pong", HasOutput: true}, nil
	}

	h.run(wa.MessageReceived{Session: "shop", Message: inbound("m1", "ping")})

	ops, sends := h.messenger.snapshot()
	want := []string{"read:m1", "typing:on", "typing:off", "forward:ping", "send:pong"}
	if len(ops) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("expected ops %v, got %v", want, ops)
		}
	}
	if sends[0].session != "shop" || sends[0].to.String() != "628111@s.whatsapp.net" {
		t.Fatalf("unexpected reply target %+v", sends[0])
	}

	req := h.forwarder.calls()[0]
	if req.SenderID != "628111@s.whatsapp.net" || req.SenderDisplayName != "Budi" {
		t.Fatalf("unexpected webhook payload %+v", req)
	}
}

func TestReplyIsSentVerbatim(t *testing.T) {
	h := newHarness(t, "shop")
	output := "  *Halo* kak,\nstok tersedia  "
	h.forwarder.handle = func(automation.Request) (automation.Reply, error) {
		return automation.Reply{Output: output, HasOutput: true}, nil
	}

	h.run(wa.MessageReceived{Session: "shop", Message: inbound("m1", "stok?")})

	_, sends := h.messenger.snapshot()
	if len(sends) != 1 || sends[0].text != output {
		t.Fatalf("expected verbatim reply %q, got %+v", output, sends)
	}
}

func TestMissingOutputSendsNoReplyText(t *testing.T) {
	h := newHarness(t, "shop")
	h.forwarder.handle = func(automation.Request) (automation.Reply, error) {
		return automation.Reply{}, nil
	}

	h.run(wa.MessageReceived{Session: "shop", Message: inbound("m1", "hi")})

	_, sends := h.messenger.snapshot()
	if len(sends) != 1 || sends[0].text != "no reply" {
		t.Fatalf("expected no-reply text, got %+v", sends)
	}
}

func TestWebhookFailureSendsOneFallback(t *testing.T) {
	h := newHarness(t, "shop")
	h.forwarder.handle = func(automation.Request) (automation.Reply, error) {
		return automation.Reply{}, errors.New("dial tcp: connection refused")
	}

	h.run(wa.MessageReceived{Session: "shop", Message: inbound("m1", "hi")})

	if calls := h.forwarder.calls(); len(calls) != 1 {
		t.Fatalf("expected exactly one webhook attempt, got %d", len(calls))
	}
	_, sends := h.messenger.snapshot()
	if len(sends) != 1 || sends[0].text != "fallback" {
		t.Fatalf("expected one fallback text, got %+v", sends)
	}
}

func TestMessageWithoutTextIsOnlyMarkedRead(t *testing.T) {
	h := newHarness(t, "shop")

	h.run(wa.MessageReceived{Session: "shop", Message: inbound("img", "")})

	ops, _ := h.messenger.snapshot()
	if len(ops) != 1 || ops[0] != "read:img" {
		t.Fatalf("expected only a read receipt, got %v", ops)
	}
	if calls := h.forwarder.calls(); len(calls) != 0 {
		t.Fatalf("expected no webhook call, got %d", len(calls))
	}
}

func TestMessagesKeepArrivalOrderPerSession(t *testing.T) {
	h := newHarness(t, "shop")
	h.forwarder.handle = func(in automation.Request) (automation.Reply, error) {
		return automation.Reply{Output: "re:" + in.Text, HasOutput: true}, nil
	}

	var events []wa.Event
	texts := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, text := range texts {
		events = append(events, wa.MessageReceived{Session: "shop", Message: inbound("m"+text, text)})
	}
	h.run(events...)

	_, sends := h.messenger.snapshot()
	if len(sends) != len(texts) {
		t.Fatalf("expected %d replies, got %d", len(texts), len(sends))
	}
	for i, text := range texts {
		if sends[i].text != "re:"+text {
			t.Fatalf("reply %d out of order: %+v", i, sends)
		}
	}
}

func TestSlowSessionDoesNotStallOthers(t *testing.T) {
	h := newHarness(t, "slow", "fast")
	release := make(chan struct{})
	h.forwarder.handle = func(in automation.Request) (automation.Reply, error) {
		if in.Text == "wait" {
			<-release
		}
		return automation.Reply{Output: "done:" + in.Text, HasOutput: true}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan wa.Event)
	done := make(chan struct{})
	go func() {
		h.tracker.Run(ctx, events)
		close(done)
	}()

	events <- wa.MessageReceived{Session: "slow", Message: inbound("s1", "wait")}
	events <- wa.MessageReceived{Session: "fast", Message: inbound("f1", "quick")}

	select {
	case s := <-h.messenger.sent:
		if s.session != "fast" || s.text != "done:quick" {
			t.Fatalf("expected fast session reply first, got %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast session was stalled by slow webhook")
	}

	close(release)
	select {
	case s := <-h.messenger.sent:
		if s.session != "slow" {
			t.Fatalf("expected slow session reply, got %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow session never replied")
	}

	close(events)
	<-done
}

func TestRemovedStopsSessionWorker(t *testing.T) {
	h := newHarness(t, "shop", "other")
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan wa.Event)
	done := make(chan struct{})
	go func() {
		h.tracker.Run(ctx, events)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitSent := func(session string) {
		t.Helper()
		select {
		case s := <-h.messenger.sent:
			if s.session != session {
				t.Fatalf("expected reply on %s, got %+v", session, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply on %s", session)
		}
	}

	events <- wa.MessageReceived{Session: "shop", Message: inbound("m1", "hi")}
	waitSent("shop")
	events <- wa.Removed{Session: "shop"}
	events <- wa.MessageReceived{Session: "other", Message: inbound("m2", "hi")}
	waitSent("other")

	if _, ok := h.tracker.workers["shop"]; ok {
		t.Fatal("expected worker for removed session to be stopped")
	}
	if len(h.tracker.workers) != 1 {
		t.Fatalf("expected only the other worker, got %d", len(h.tracker.workers))
	}
}

func TestEventsForDeletedSessionAreNotErrors(t *testing.T) {
	h := newHarness(t)
	m := metrics.NewUnregistered("test")
	h.tracker = New(h.tracker.cfg, h.store, h.qr, h.messenger, h.forwarder, discardLogger, m)

	h.run(
		wa.QRUpdated{Session: "gone", Code: "qr"},
		wa.Connected{Session: "gone"},
		wa.Paired{Session: "gone", JID: types.NewJID("628999", types.DefaultUserServer)},
		wa.LoggedOut{Session: "gone"},
	)

	if v := testutil.ToFloat64(m.Errors.WithLabelValues("tracker")); v != 0 {
		t.Fatalf("expected no tracker errors, got %v", v)
	}
	if v := testutil.ToFloat64(m.SessionEvents.WithLabelValues("logged_out")); v != 1 {
		t.Fatalf("expected logged_out event counted, got %v", v)
	}
}
