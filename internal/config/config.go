package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr     string
	PublicBasePath     string
	CORSAllowedOrigins []string
	APIKey             string

	DatabaseDriver string
	DatabaseURL    string
	SupabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	QRCacheTTL    time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string
	WhatsAppPrintQR   bool
	SessionQueueDepth int

	AutomationWebhookURL string
	AutomationTimeout    time.Duration
	TypingDuration       time.Duration
	FallbackReplyText    string
	NoReplyText          string

	LLMProvider string
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration

	BroadcastRate  float64
	BroadcastBurst int
	BroadcastTTL   time.Duration

	MetricsNamespace string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":3000"),
		PublicBasePath:     os.Getenv("PUBLIC_BASE_PATH"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		APIKey:             strings.TrimSpace(os.Getenv("API_KEY")),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SupabaseSchema: getEnv("SUPABASE_SCHEMA", "public"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/gateway.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsmeow.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "WARN"),

		AutomationWebhookURL: os.Getenv("AUTOMATION_WEBHOOK_URL"),
		FallbackReplyText:    getEnv("FALLBACK_REPLY_TEXT", "Sorry, we could not process your message right now. Please try again later."),
		NoReplyText:          getEnv("NO_REPLY_TEXT", "Sorry, no reply is available at the moment."),

		LLMProvider: strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMBaseURL:  getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:   os.Getenv("LLM_API_KEY"),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),

		MetricsNamespace: getEnv("METRICS_NAMESPACE", "wa_gateway"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.QRCacheTTL, err = getDuration("QR_CACHE_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WhatsAppPrintQR, err = getBool("WHATSAPP_PRINT_QR", false); err != nil {
		return nil, err
	}
	if cfg.SessionQueueDepth, err = getInt("SESSION_QUEUE_DEPTH", 64); err != nil {
		return nil, err
	}
	if cfg.AutomationTimeout, err = getDuration("AUTOMATION_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.TypingDuration, err = getDuration("TYPING_DURATION", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BroadcastRate, err = getFloat("BROADCAST_RATE", 1); err != nil {
		return nil, err
	}
	if cfg.BroadcastBurst, err = getInt("BROADCAST_BURST", 1); err != nil {
		return nil, err
	}
	if cfg.BroadcastTTL, err = getDuration("BROADCAST_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=%s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.SessionQueueDepth <= 0 {
		return fmt.Errorf("SESSION_QUEUE_DEPTH must be positive, got %d", c.SessionQueueDepth)
	}
	if c.BroadcastRate <= 0 {
		return fmt.Errorf("BROADCAST_RATE must be positive, got %v", c.BroadcastRate)
	}
	if c.BroadcastBurst <= 0 {
		c.BroadcastBurst = 1
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

// getDuration accepts Go duration strings and bare integers as seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
