package config_test

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"resilience/internal/domain"
	"resilience/internal/platform/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.GatewayAddr != ":8080" {
		t.Errorf("expected default gateway addr :8080, got %q", cfg.GatewayAddr)
	}
	if cfg.UpstreamURL != "http://localhost:8082" {
		t.Errorf("expected default upstream URL, got %q", cfg.UpstreamURL)
	}
	if cfg.JWKSEndpoint != "http://localhost:8081/.well-known/jwks.json" {
		t.Errorf("expected default JWKS endpoint, got %q", cfg.JWKSEndpoint)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if !slices.Equal(cfg.LogSinks, []string{"slog"}) {
		t.Errorf("expected slog sink by default, got %v", cfg.LogSinks)
	}
	if cfg.Disclosure() != domain.DisclosureDevelopment {
		t.Errorf("expected development disclosure by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9090")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("UPSTREAM_URL", "http://app:9092")
	t.Setenv("JWKS_ENDPOINT", "http://custom:9091/.well-known/jwks.json")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_SINK", "slog, ZAP")

	cfg := config.Load()

	if cfg.GatewayAddr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.GatewayAddr)
	}
	if cfg.UpstreamURL != "http://app:9092" {
		t.Errorf("expected upstream URL, got %q", cfg.UpstreamURL)
	}
	if cfg.JWKSEndpoint != "http://custom:9091/.well-known/jwks.json" {
		t.Errorf("expected custom JWKS endpoint, got %q", cfg.JWKSEndpoint)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.SlogLevel())
	}
	if cfg.Disclosure() != domain.DisclosureProduction {
		t.Error("APP_ENV=Production should select production disclosure")
	}
	if !slices.Equal(cfg.LogSinks, []string{"slog", "zap"}) {
		t.Errorf("expected [slog zap], got %v", cfg.LogSinks)
	}
}

func TestRateLimitDefaults(t *testing.T) {
	cfg := config.Load()
	rl := cfg.RateLimit

	if rl.Default.Window != 2*time.Minute || rl.Default.Max != 100 {
		t.Errorf("expected default 2m/100, got %s/%d", rl.Default.Window, rl.Default.Max)
	}
	if rl.Auth.Window != 15*time.Minute || rl.Auth.Max != 30 {
		t.Errorf("expected auth 15m/30, got %s/%d", rl.Auth.Window, rl.Auth.Max)
	}
	if rl.Default.TrustProxy || rl.Auth.TrustProxy {
		t.Error("proxy headers must not be trusted by default")
	}
	if rl.Store != config.StoreMemory {
		t.Errorf("expected memory store, got %q", rl.Store)
	}
	if rl.PassOnStoreError {
		t.Error("store errors should fail requests by default")
	}
}

func TestRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "1m")
	t.Setenv("RATE_LIMIT_DEFAULT_MAX", "50")
	t.Setenv("RATE_LIMIT_AUTH_WINDOW", "5m")
	t.Setenv("RATE_LIMIT_AUTH_MAX", "5")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("RATE_LIMIT_STORE", "Redis")
	t.Setenv("RATE_LIMIT_PASS_ON_STORE_ERROR", "1")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "2")

	cfg := config.Load()
	rl := cfg.RateLimit

	if rl.Default.Window != time.Minute || rl.Default.Max != 50 {
		t.Errorf("unexpected default policy %+v", rl.Default)
	}
	if rl.Auth.Window != 5*time.Minute || rl.Auth.Max != 5 {
		t.Errorf("unexpected auth policy %+v", rl.Auth)
	}
	if !rl.Default.TrustProxy || !rl.Auth.TrustProxy {
		t.Error("TRUST_PROXY should apply to both policies")
	}
	if rl.Store != config.StoreRedis || !rl.PassOnStoreError {
		t.Errorf("unexpected store settings %+v", rl)
	}
	if cfg.Redis.Addr != "redis:6380" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "soon")
	t.Setenv("RATE_LIMIT_AUTH_MAX", "thirty")
	t.Setenv("TRUST_PROXY", "maybe")
	t.Setenv("RATE_LIMIT_STORE", "memcached")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := config.Load()

	if cfg.RateLimit.Default.Window != 2*time.Minute {
		t.Errorf("expected fallback window, got %s", cfg.RateLimit.Default.Window)
	}
	if cfg.RateLimit.Auth.Max != 30 {
		t.Errorf("expected fallback max, got %d", cfg.RateLimit.Auth.Max)
	}
	if cfg.RateLimit.Default.TrustProxy {
		t.Error("expected fallback trust proxy false")
	}
	if cfg.RateLimit.Store != config.StoreMemory {
		t.Errorf("expected fallback store, got %q", cfg.RateLimit.Store)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info for unknown level, got %v", cfg.SlogLevel())
	}
}
