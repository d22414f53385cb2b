package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resilience/internal/domain"
	"resilience/internal/gateway/adapter/logsink"
	"resilience/internal/gateway/classify"
	"resilience/internal/gateway/middleware"
	"resilience/internal/platform/server"
)

func main() {
	addr := envOr("IDENTITY_ADDR", ":8081")
	mode := domain.ParseDisclosureMode(os.Getenv("APP_ENV"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Generate RSA key pair
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	is := &issuer{
		kid: fmt.Sprintf("mock-key-%d", time.Now().Unix()),
		key: priv,
		ttl: 15 * time.Minute,
		users: map[string]string{
			"admin": "admin",
			"user":  "password",
		},
		apiKeys: map[string]string{
			"test-api-key-1": "service-account-1",
		},
		now: time.Now,
	}

	slog.Info("mock identity service starting", "addr", addr, "kid", is.kid, "disclosure", mode.String())
	slog.Info("seeded credentials",
		"users", "admin:admin, user:password",
		"api_keys", "test-api-key-1",
	)

	c := classify.New(logsink.NewSafe(logsink.NewSlog(logger), logger), mode, classify.WithLogger(logger))

	srv := server.New(addr, middleware.Chain(newHandler(is, c),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(c),
	), server.WithLogger(logger))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func newHandler(is *issuer, c *classify.Classifier) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /.well-known/jwks.json", middleware.Handle(c, is.jwks))
	mux.Handle("POST /auth/token", middleware.Handle(c, is.token))
	mux.Handle("POST /auth/login", middleware.Handle(c, is.token))
	mux.Handle("GET /healthz", middleware.Handle(c, func(w http.ResponseWriter, r *http.Request) error {
		return writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mock-identity"})
	}))
	mux.Handle("/", classify.NotFound(c))
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
