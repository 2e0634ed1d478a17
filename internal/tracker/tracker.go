// Package tracker applies session lifecycle events to the session store and
// relays inbound chat messages through the automation webhook.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wa-gateway/internal/automation"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"

	"go.mau.fi/whatsmeow/types"
)

const (
	defaultQueueDepth     = 64
	defaultFallbackReply  = "Sorry, something went wrong. Please try again later."
	defaultNoReplyMessage = "Sorry, no reply is available right now."
)

// Store persists session state transitions.
type Store interface {
	UpdateSessionQR(ctx context.Context, id, qr string) error
	MarkSessionConnected(ctx context.Context, id string, at time.Time) error
	SetSessionDevice(ctx context.Context, id, deviceJID string) error
	ResetSession(ctx context.Context, id string) error
}

// QRCache keeps short-lived pairing codes for the HTTP layer.
type QRCache interface {
	SetQR(ctx context.Context, sessionID, code string, ttl time.Duration) error
}

// Messenger is the slice of the session manager the relay needs.
type Messenger interface {
	MarkRead(ctx context.Context, sessionID string, msg wa.InboundMessage) error
	SetTyping(ctx context.Context, sessionID string, chat types.JID, typing bool) error
	SendText(ctx context.Context, sessionID string, to types.JID, text string) error
}

// Forwarder delivers a message to the automation webhook.
type Forwarder interface {
	Forward(ctx context.Context, in automation.Request) (automation.Reply, error)
}

// Config tunes the relay.
type Config struct {
	QueueDepth     int
	TypingDuration time.Duration
	FallbackReply  string
	NoReply        string
	QRCacheTTL     time.Duration
}

// Tracker consumes the session manager's event channel.
type Tracker struct {
	store     Store
	qrCache   QRCache
	messenger Messenger
	forwarder Forwarder
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	workers map[string]chan wa.InboundMessage
	wg      sync.WaitGroup
}

// New builds a tracker. qrCache and m may be nil.
func New(cfg Config, store Store, qrCache QRCache, messenger Messenger, forwarder Forwarder, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = defaultFallbackReply
	}
	if cfg.NoReply == "" {
		cfg.NoReply = defaultNoReplyMessage
	}
	return &Tracker{
		store:     store,
		qrCache:   qrCache,
		messenger: messenger,
		forwarder: forwarder,
		cfg:       cfg,
		logger:    logger.With("component", "tracker"),
		metrics:   m,
		now:       time.Now,
		workers:   make(map[string]chan wa.InboundMessage),
	}
}

// Run dispatches events until ctx is cancelled or events is closed. Session
// state events are applied inline, in channel order. Messages are queued to
// one worker per session; a full queue blocks the loop. Run returns after
// every worker has exited.
func (t *Tracker) Run(ctx context.Context, events <-chan wa.Event) {
	defer t.stopWorkers()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.dispatch(ctx, evt)
		}
	}
}

func (t *Tracker) dispatch(ctx context.Context, evt wa.Event) {
	switch e := evt.(type) {
	case wa.QRUpdated:
		t.countEvent("qr")
		t.onQRUpdated(ctx, e)
	case wa.Connected:
		t.countEvent("connected")
		t.onConnected(ctx, e)
	case wa.Paired:
		t.countEvent("paired")
		if err := t.store.SetSessionDevice(ctx, e.Session, e.JID.String()); err != nil {
			t.fail("store device failed", err, "session", e.Session)
		}
	case wa.Disconnected:
		t.countEvent("disconnected")
		t.logger.Info("session disconnected, waiting for reconnect", "session", e.Session)
	case wa.LoggedOut:
		t.countEvent("logged_out")
		if err := t.store.ResetSession(ctx, e.Session); err != nil {
			t.fail("reset session failed", err, "session", e.Session)
		}
		t.stopWorker(e.Session)
	case wa.Removed:
		t.countEvent("removed")
		t.stopWorker(e.Session)
		t.logger.Info("session removed", "session", e.Session)
	case wa.MessageReceived:
		t.enqueue(ctx, e)
	default:
		t.logger.Warn("unknown event", "session", evt.SessionID())
	}
}

func (t *Tracker) onQRUpdated(ctx context.Context, e wa.QRUpdated) {
	if err := t.store.UpdateSessionQR(ctx, e.Session, e.Code); err != nil {
		t.fail("store qr failed", err, "session", e.Session)
	}
	if t.qrCache != nil {
		if err := t.qrCache.SetQR(ctx, e.Session, e.Code, t.cfg.QRCacheTTL); err != nil {
			t.logger.Warn("cache qr failed", "session", e.Session, "error", err)
		}
	}
}

func (t *Tracker) onConnected(ctx context.Context, e wa.Connected) {
	if err := t.store.MarkSessionConnected(ctx, e.Session, t.now().UTC()); err != nil {
		t.fail("mark connected failed", err, "session", e.Session)
		return
	}
	t.logger.Info("session connected", "session", e.Session)
}

func (t *Tracker) enqueue(ctx context.Context, e wa.MessageReceived) {
	queue, ok := t.workers[e.Session]
	if !ok {
		queue = make(chan wa.InboundMessage, t.cfg.QueueDepth)
		t.workers[e.Session] = queue
		t.wg.Add(1)
		go t.work(ctx, e.Session, queue)
	}
	select {
	case queue <- e.Message:
	case <-ctx.Done():
	}
}

func (t *Tracker) work(ctx context.Context, sessionID string, queue <-chan wa.InboundMessage) {
	defer t.wg.Done()
	for msg := range queue {
		if ctx.Err() != nil {
			return
		}
		t.handleMessage(ctx, sessionID, msg)
	}
}

func (t *Tracker) stopWorker(sessionID string) {
	if queue, ok := t.workers[sessionID]; ok {
		close(queue)
		delete(t.workers, sessionID)
	}
}

func (t *Tracker) stopWorkers() {
	for id := range t.workers {
		t.stopWorker(id)
	}
	t.wg.Wait()
}

func (t *Tracker) countEvent(event string) {
	if t.metrics != nil {
		t.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (t *Tracker) countMessage(outcome string) {
	if t.metrics != nil {
		t.metrics.WAIncomingMessages.WithLabelValues(outcome).Inc()
	}
}

func (t *Tracker) fail(msg string, err error, args ...any) {
	if errors.Is(err, repo.ErrNotFound) {
		t.logger.Debug("session gone, event ignored", append(args, "op", msg)...)
		return
	}
	t.logger.Error(msg, append(args, "error", err)...)
	t.metrics.Error("tracker")
}
