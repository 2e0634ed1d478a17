package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wa-gateway/internal/automation"
	"wa-gateway/internal/broadcast"
	"wa-gateway/internal/cache"
	"wa-gateway/internal/config"
	"wa-gateway/internal/httpserver"
	"wa-gateway/internal/llm"
	"wa-gateway/internal/logging"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/tracker"
	"wa-gateway/internal/wa"
	"wa-gateway/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting wa-gateway", "env", cfg.AppEnv, "database", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	manager, err := wa.NewManager(ctx, wa.Config{
		StorePath:   cfg.WhatsAppStorePath,
		LogLevel:    cfg.WhatsAppLogLevel,
		PrintQR:     cfg.WhatsAppPrintQR,
		EventBuffer: cfg.SessionQueueDepth * 4,
		Metrics:     metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp manager: %w", err)
	}
	defer manager.Close()

	webhook := automation.New(automation.Config{
		URL:     cfg.AutomationWebhookURL,
		Timeout: cfg.AutomationTimeout,
	}, logger, metricRegistry)
	if cfg.AutomationWebhookURL == "" {
		logger.Warn("AUTOMATION_WEBHOOK_URL not set, inbound messages will get the fallback reply")
	}

	relay := tracker.New(tracker.Config{
		QueueDepth:     cfg.SessionQueueDepth,
		TypingDuration: cfg.TypingDuration,
		FallbackReply:  cfg.FallbackReplyText,
		NoReply:        cfg.NoReplyText,
		QRCacheTTL:     cfg.QRCacheTTL,
	}, repository, redisClient, manager, webhook, logger, metricRegistry)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		relay.Run(ctx, manager.Events())
	}()

	restoreSessions(ctx, repository, manager, logger)

	broadcaster := broadcast.NewRunner(ctx, broadcast.Config{
		Rate:  cfg.BroadcastRate,
		Burst: cfg.BroadcastBurst,
		TTL:   cfg.BroadcastTTL,
	}, manager, repository, redisClient, logger, metricRegistry)

	chatter, err := newChatter(ctx, cfg, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	if gemini, ok := chatter.(*llm.Gemini); ok {
		defer gemini.Close()
	}

	httpSrv := httpserver.New(httpserver.Options{
		Addr:        cfg.HTTPListenAddr,
		BasePath:    cfg.PublicBasePath,
		CORSOrigins: cfg.CORSAllowedOrigins,
		APIKey:      cfg.APIKey,
	}, httpserver.Dependencies{
		Repository:  repository,
		Sessions:    manager,
		QRCache:     redisClient,
		Broadcaster: broadcaster,
		LLM:         chatter,
	}, logger, metricRegistry)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server error: %w", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	<-trackerDone
	broadcaster.Wait()
	return runErr
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.DatabaseDriver == config.DriverSQLite {
		r, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := repo.New(ctx, cfg.DatabaseURL, cfg.SupabaseSchema, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// newChatter returns nil when Gemini is selected without a key.
func newChatter(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (llm.Chatter, error) {
	if cfg.LLMProvider == llm.ProviderGemini && cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY not set, /ai/chat disabled")
		return nil, nil
	}
	return llm.New(ctx, llm.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	}, logger, m)
}

// restoreSessions reconnects every session that finished pairing before the
// last shutdown.
func restoreSessions(ctx context.Context, repository repo.Repository, manager *wa.Manager, logger *slog.Logger) {
	sessions, err := repository.ListSessions(ctx)
	if err != nil {
		logger.Error("list sessions for restore failed", "error", err)
		return
	}
	restored := 0
	for _, s := range sessions {
		if s.DeviceJID == nil || *s.DeviceJID == "" {
			continue
		}
		if err := manager.Start(ctx, s.SessionID, *s.DeviceJID); err != nil {
			logger.Error("restore session failed", "session", s.SessionID, "error", err)
			continue
		}
		restored++
	}
	logger.Info("sessions restored", "count", restored)
}
