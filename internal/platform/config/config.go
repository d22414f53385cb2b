package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"resilience/internal/domain"
)

// Rate limit store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for the boundary.
type Config struct {
	GatewayAddr  string
	Environment  string // APP_ENV; "production" hides non-operational error details
	UpstreamURL  string // Full URL for the application behind the boundary (e.g. http://app:8082)
	IdentityURL  string // Full URL for the identity service (e.g. http://identity:8081)
	JWKSEndpoint string
	LogLevel     string
	LogSinks     []string // LOG_SINK, comma separated: slog, zap
	RateLimit    RateLimitConfig
	Redis        RedisConfig
}

// RateLimitConfig holds the two fixed-window policies and where their
// counters live.
type RateLimitConfig struct {
	Default          domain.RateLimitPolicy
	Auth             domain.RateLimitPolicy
	Store            string // memory or redis
	PassOnStoreError bool
	CleanupInterval  time.Duration
}

// RedisConfig is used when RateLimit.Store is redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() Config {
	trustProxy := envBool("TRUST_PROXY", false)

	def := domain.DefaultPolicy()
	def.Window = envDuration("RATE_LIMIT_DEFAULT_WINDOW", def.Window)
	def.Max = envInt("RATE_LIMIT_DEFAULT_MAX", def.Max)
	def.TrustProxy = trustProxy

	auth := domain.AuthPolicy()
	auth.Window = envDuration("RATE_LIMIT_AUTH_WINDOW", auth.Window)
	auth.Max = envInt("RATE_LIMIT_AUTH_MAX", auth.Max)
	auth.TrustProxy = trustProxy

	return Config{
		GatewayAddr:  envOr("GATEWAY_ADDR", ":8080"),
		Environment:  envOr("APP_ENV", "development"),
		UpstreamURL:  envOr("UPSTREAM_URL", "http://localhost:8082"),
		IdentityURL:  envOr("IDENTITY_URL", "http://localhost:8081"),
		JWKSEndpoint: envOr("JWKS_ENDPOINT", "http://localhost:8081/.well-known/jwks.json"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogSinks:     envList("LOG_SINK", []string{"slog"}),
		RateLimit: RateLimitConfig{
			Default:          def,
			Auth:             auth,
			Store:            envOneOf("RATE_LIMIT_STORE", StoreMemory, StoreMemory, StoreRedis),
			PassOnStoreError: envBool("RATE_LIMIT_PASS_ON_STORE_ERROR", false),
			CleanupInterval:  envDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			Prefix:   envOr("REDIS_PREFIX", "ratelimit:"),
		},
	}
}

// Disclosure returns the error disclosure mode for Environment.
func (c Config) Disclosure() domain.DisclosureMode {
	return domain.ParseDisclosureMode(c.Environment)
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func envOneOf(key, fallback string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	slog.Warn("unsupported env var value, using default", "key", key, "value", v, "default", fallback)
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
