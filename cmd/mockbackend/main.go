package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"resilience/internal/domain"
	"resilience/internal/gateway/adapter/logsink"
	"resilience/internal/gateway/classify"
	"resilience/internal/gateway/middleware"
	"resilience/internal/platform/server"
)

func main() {
	addr := envOr("ADDR", ":8082")
	name := envOr("BACKEND_NAME", "mock-backend")
	baseDelay := envDuration("LATENCY_BASE", 0)
	jitter := envDuration("LATENCY_JITTER", 0)
	mode := domain.ParseDisclosureMode(os.Getenv("APP_ENV"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("mock backend starting", "addr", addr, "name", name,
		"disclosure", mode.String(),
		"latency_base", baseDelay, "latency_jitter", jitter)

	c := classify.New(logsink.NewSafe(logsink.NewSlog(logger), logger), mode, classify.WithLogger(logger))
	handler := newHandler(name, c, newOrderStore(), baseDelay, jitter)

	srv := server.New(addr, middleware.Chain(handler,
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(c),
		middleware.MaxBodySize(c, 1<<20),
	), server.WithLogger(logger))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// newHandler builds the sample application. Every handler reports failure by
// returning an error; the classifier decides what the client sees.
func newHandler(name string, c *classify.Classifier, store *orderStore, baseDelay, jitter time.Duration) http.Handler {
	orders := newOrderHandlers(store)
	mux := http.NewServeMux()

	mux.Handle("GET /api/orders", middleware.Handle(c, orders.list))
	mux.Handle("POST /api/orders", middleware.Handle(c, orders.create))
	mux.Handle("GET /api/orders/{id}", middleware.Handle(c, orders.get))
	mux.Handle("DELETE /api/orders/{id}", middleware.Handle(c, orders.remove))

	// Failure demonstrations.
	mux.Handle("GET /api/debug/bug", middleware.Handle(c, func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("orders index is not initialised")
	}))
	mux.Handle("GET /api/debug/panic", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("order total overflow")
	}))

	// Echo request details, used by load tests.
	mux.HandleFunc("/api/echo/", func(w http.ResponseWriter, r *http.Request) {
		simulateWork(baseDelay, jitter)
		resp := map[string]any{
			"backend":          name,
			"method":           r.Method,
			"path":             r.URL.Path,
			"principal_id":     r.Header.Get("X-Principal-ID"),
			"principal_scopes": r.Header.Get("X-Principal-Scopes"),
			"request_id":       r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": name})
	})

	mux.Handle("/", classify.NotFound(c))
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration reads a duration in milliseconds from an env var (e.g. "50" -> 50ms).
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// simulateWork sleeps for base + random(0, jitter) to mimic real backend processing.
func simulateWork(base, jitter time.Duration) {
	if base == 0 && jitter == 0 {
		return
	}
	delay := base
	if jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	time.Sleep(delay)
}
