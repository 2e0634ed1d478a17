package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"wa-gateway/internal/metrics"
	"wa-gateway/internal/qrcode"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrSessionNotFound is returned when a session has no live client.
	ErrSessionNotFound = errors.New("session not running")
	// ErrNotLoggedIn is returned when sending through an unpaired session.
	ErrNotLoggedIn = errors.New("session not logged in")
)

// Config holds configuration to initialise the session manager.
type Config struct {
	StorePath   string
	LogLevel    string
	PrintQR     bool
	EventBuffer int
	Metrics     *metrics.Metrics
}

// Manager owns one whatsmeow client per session id, all backed by a shared
// SQLite device store. Every client publishes onto a single event channel.
type Manager struct {
	ctx       context.Context
	container *sqlstore.Container
	logger    *slog.Logger
	metrics   *metrics.Metrics
	logLevel  string
	printQR   bool

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	id     string
	client *whatsmeow.Client
	logger *slog.Logger

	mu     sync.RWMutex
	lastQR string
}

// NewManager opens the device store. ctx bounds the lifetime of pairing
// goroutines started by Start.
func NewManager(ctx context.Context, cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	return &Manager{
		ctx:       ctx,
		container: container,
		logger:    logger.With("component", "wa"),
		metrics:   cfg.Metrics,
		logLevel:  cfg.LogLevel,
		printQR:   cfg.PrintQR,
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
		sessions:  make(map[string]*session),
	}, nil
}

// Events returns the channel every session publishes to.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start connects the client for sessionID. An empty deviceJID, or one the
// store no longer knows, begins a fresh pairing that emits QRUpdated events.
// Starting a connected session is a no-op.
func (m *Manager) Start(ctx context.Context, sessionID, deviceJID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager closed")
	}
	if existing, ok := m.sessions[sessionID]; ok {
		if existing.client.IsConnected() {
			m.mu.Unlock()
			return nil
		}
		delete(m.sessions, sessionID)
		existing.client.Disconnect()
	}
	m.mu.Unlock()

	device, err := m.loadDevice(ctx, deviceJID)
	if err != nil {
		return err
	}

	s := &session{
		id:     sessionID,
		logger: m.logger.With("session", sessionID),
	}
	s.client = whatsmeow.NewClient(device, waLog.Stdout("whatsmeow/"+sessionID, m.logLevel, true))
	s.client.AddEventHandler(func(evt any) { m.handleEvent(s, evt) })

	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(m.ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		go m.consumeQR(s, qrChan)
		s.logger.Info("pairing required, waiting for QR scan")
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	if err := s.client.Connect(); err != nil {
		m.mu.Lock()
		if m.sessions[sessionID] == s {
			delete(m.sessions, sessionID)
		}
		m.mu.Unlock()
		return fmt.Errorf("connect wa client: %w", err)
	}
	return nil
}

func (m *Manager) loadDevice(ctx context.Context, deviceJID string) (*store.Device, error) {
	if deviceJID == "" {
		return m.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(deviceJID)
	if err != nil {
		return nil, fmt.Errorf("parse device jid: %w", err)
	}
	device, err := m.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		m.logger.Warn("device missing from store, pairing again", "device", deviceJID)
		return m.container.NewDevice(), nil
	}
	return device, nil
}

func (m *Manager) consumeQR(s *session, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.mu.Lock()
			s.lastQR = item.Code
			s.mu.Unlock()
			if m.printQR {
				qrcode.PrintTerminal(os.Stdout, item.Code)
			}
			m.emit(QRUpdated{Session: s.id, Code: item.Code})
		default:
			s.logger.Info("pairing event received", "event", item.Event)
		}
	}
}

// QR returns the most recent pairing code held in memory.
func (m *Manager) QR(sessionID string) (string, bool) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQR, s.lastQR != ""
}

// IsConnected reports whether sessionID has a live, logged-in connection.
func (m *Manager) IsConnected(sessionID string) bool {
	s, ok := m.lookup(sessionID)
	return ok && s.client.IsConnected() && s.client.IsLoggedIn()
}

// Remove stops sessionID and unlinks its device. deviceJID lets callers
// wipe a stored device whose client was never started.
func (m *Manager) Remove(ctx context.Context, sessionID, deviceJID string) error {
	defer m.emit(Removed{Session: sessionID})

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		if s.client.Store.ID == nil {
			s.client.Disconnect()
			return nil
		}
		if err := s.client.Logout(ctx); err != nil {
			s.logger.Warn("logout failed, deleting device locally", "error", err)
			s.client.Disconnect()
			if err := s.client.Store.Delete(ctx); err != nil {
				return fmt.Errorf("delete device: %w", err)
			}
		}
		return nil
	}

	if deviceJID == "" {
		return nil
	}
	jid, err := types.ParseJID(deviceJID)
	if err != nil {
		return fmt.Errorf("parse device jid: %w", err)
	}
	device, err := m.container.GetDevice(ctx, jid)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		return nil
	}
	if err := device.Delete(ctx); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// Close disconnects every client. Events are no longer delivered afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = map[string]*session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.client.Disconnect()
	}
	close(m.done)
}

func (m *Manager) lookup(sessionID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) client(sessionID string) (*whatsmeow.Client, error) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	if !s.client.IsLoggedIn() {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrNotLoggedIn)
	}
	return s.client, nil
}

func (m *Manager) handleEvent(s *session, evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Message == nil {
			return
		}
		m.emit(MessageReceived{Session: s.id, Message: NewInboundMessage(v)})
	case *events.PairSuccess:
		s.logger.Info("device paired", "jid", v.ID.String())
		s.mu.Lock()
		s.lastQR = ""
		s.mu.Unlock()
		m.emit(Paired{Session: s.id, JID: v.ID})
	case *events.Connected:
		s.logger.Info("device connected")
		m.emit(Connected{Session: s.id})
	case *events.Disconnected:
		s.logger.Warn("device disconnected")
		m.emit(Disconnected{Session: s.id})
	case *events.LoggedOut:
		s.logger.Warn("device logged out", "reason", v.Reason.String())
		m.emit(LoggedOut{Session: s.id, Reason: v.Reason.String()})
	}
}

func (m *Manager) emit(evt Event) {
	select {
	case m.events <- evt:
	case <-m.done:
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
