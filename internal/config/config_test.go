package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPListenAddr != ":3000" {
		t.Fatalf("expected default listen addr, got %q", cfg.HTTPListenAddr)
	}
	if cfg.TypingDuration != 2*time.Second {
		t.Fatalf("expected 2s typing duration, got %s", cfg.TypingDuration)
	}
	if cfg.AutomationTimeout != 0 {
		t.Fatalf("expected no automation timeout, got %s", cfg.AutomationTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadParsesDurationsAndLists(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("TYPING_DURATION", "500ms")
	t.Setenv("QR_CACHE_TTL", "90")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TypingDuration != 500*time.Millisecond {
		t.Fatalf("got typing duration %s", cfg.TypingDuration)
	}
	if cfg.QRCacheTTL != 90*time.Second {
		t.Fatalf("got qr ttl %s", cfg.QRCacheTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("got origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("REDIS_DB", "two")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
