package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wa-gateway/internal/broadcast"
	"wa-gateway/internal/llm"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mau.fi/whatsmeow/types"
)

// SessionManager is the slice of wa.Manager the gateway drives.
type SessionManager interface {
	Start(ctx context.Context, sessionID, deviceJID string) error
	QR(sessionID string) (string, bool)
	IsConnected(sessionID string) bool
	Remove(ctx context.Context, sessionID, deviceJID string) error
	SendText(ctx context.Context, sessionID string, to types.JID, text string) error
	SendMedia(ctx context.Context, sessionID string, to types.JID, media wa.Media) error
}

// QRCache is the Redis view of pairing codes.
type QRCache interface {
	QR(ctx context.Context, sessionID string) (string, bool, error)
	ClearQR(ctx context.Context, sessionID string) error
}

// Broadcaster starts and reports broadcast runs.
type Broadcaster interface {
	Start(ctx context.Context, req broadcast.Request) (*broadcast.Run, error)
	Get(ctx context.Context, id string) (*broadcast.Run, bool, error)
}

// Dependencies exposes core dependencies to handlers that need them.
// QRCache, Broadcaster and LLM are optional.
type Dependencies struct {
	Repository  repo.Repository
	Sessions    SessionManager
	QRCache     QRCache
	Broadcaster Broadcaster
	LLM         llm.Chatter
}

// Options configures the listener and router.
type Options struct {
	Addr        string
	BasePath    string
	CORSOrigins []string
	APIKey      string
	// MaxUploadBytes bounds multipart media uploads.
	MaxUploadBytes int64
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	opts       Options
	basePath   string
}

// New creates the gateway server.
func New(opts Options, deps Dependencies, logger *slog.Logger, metricRegistry *metrics.Metrics) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		opts:     opts,
		basePath: normaliseBasePath(opts.BasePath),
	}

	server.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}
	return server
}

// Handler returns the root handler, including the base path mount.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(s.opts.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.opts.APIKey))

		r.Post("/message/send-text", s.handleSendText)
		r.Post("/send", s.handleSendText)
		r.Post("/message/send-image", s.handleSendMedia(wa.MediaImage))
		r.Post("/message/send-video", s.handleSendMedia(wa.MediaVideo))
		r.Post("/message/send-document", s.handleSendMedia(wa.MediaDocument))
		r.Post("/message/send-voice", s.handleSendMedia(wa.MediaVoice))

		r.Route("/whatsapp", func(r chi.Router) {
			r.Get("/sessions", s.handleListSessions)
			r.Post("/create-session", s.handleCreateSession)
			r.Post("/start-session", s.handleStartSession)
			r.Get("/qr/{id}", s.handleQR)
			r.Get("/qr-image/{id}", s.handleQRImage)
			r.Get("/status/{id}", s.handleStatus)
			r.Delete("/delete-session/{id}", s.handleDeleteSession)
		})

		r.Get("/customers", s.handleListCustomers)
		r.Get("/customers/{id}", s.handleGetCustomer)
		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Get("/price-history", s.handleListPriceHistory)
		r.Post("/price-history", s.handleInsertPricePoint)

		r.Post("/broadcast", s.handleStartBroadcast)
		r.Get("/broadcast/{id}", s.handleGetBroadcast)

		r.Post("/ai/chat", s.handleAIChat)
	})

	if s.basePath == "" {
		return r
	}
	root := chi.NewRouter()
	root.Mount(s.basePath, r)
	return root
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
