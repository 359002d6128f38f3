package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CERTISCAN_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.RateLimit.BackstopPerSecond != 50 {
		t.Fatalf("unexpected backstop rate: %d", cfg.RateLimit.BackstopPerSecond)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("CERTISCAN_AUTH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing auth secret")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CERTISCAN_AUTH_SECRET", "test-secret")
	t.Setenv("CERTISCAN_SERVER_PORT", "9090")
	t.Setenv("CERTISCAN_RATELIMIT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("env override ignored: %s", cfg.Server.Port)
	}
	if cfg.RateLimit.RedisAddr != "localhost:6379" {
		t.Fatalf("env override ignored: %s", cfg.RateLimit.RedisAddr)
	}
}
