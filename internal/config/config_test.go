package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "REDIS_URL", "MEILI_URL", "CANVASLY_PROXY_TIMEOUT_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8788" {
		t.Errorf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.ProxyTimeout != 30*time.Second {
		t.Errorf("unexpected default proxy timeout %v", cfg.ProxyTimeout)
	}
	// Optional backends default to off so the binary boots with just
	// Postgres and MinIO.
	if cfg.RedisURL != "" {
		t.Errorf("Redis should be disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.MeiliURL != "" {
		t.Errorf("Meilisearch should be disabled by default, got %q", cfg.MeiliURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CANVASLY_OVERLAY_TTL_SECONDS", "120")

	cfg := Load()
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("REDIS_URL override ignored, got %q", cfg.RedisURL)
	}
	if cfg.OverlayTTL != 2*time.Minute {
		t.Errorf("overlay TTL override ignored, got %v", cfg.OverlayTTL)
	}
}
