package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	gw "resilience/internal/gateway"
	"resilience/internal/gateway/adapter/inmem"
	"resilience/internal/gateway/adapter/jwks"
	"resilience/internal/gateway/adapter/logsink"
	"resilience/internal/gateway/adapter/proxy"
	"resilience/internal/gateway/adapter/redisstore"
	"resilience/internal/gateway/classify"
	"resilience/internal/gateway/limiter"
	"resilience/internal/gateway/middleware"
	"resilience/internal/platform/config"
	"resilience/internal/platform/server"
	"resilience/internal/platform/telemetry"
)

const maxBodyBytes = 1 << 20 // 1MB

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics initialization: %w", err)
	}

	// Error classification
	sink, closeSink, err := buildSink(cfg.LogSinks, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	classifier := classify.New(sink, cfg.Disclosure(),
		classify.WithMetrics(metrics),
		classify.WithLogger(logger),
	)

	// Rate limiting
	var serverOpts []server.Option
	var store gw.CounterStore
	ready := func() error { return nil }

	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		rs, err := redisstore.Dial(ctx, redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})
		if err != nil {
			return err
		}
		store = rs
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return rs.Ping(pingCtx)
		}
		serverOpts = append(serverOpts, server.WithOnShutdown(func(context.Context) error { return rs.Close() }))
	default:
		mem := inmem.NewStore(time.Now)
		store = mem
		serverOpts = append(serverOpts, server.WithJob(server.Job{
			Name:     "ratelimit-cleanup",
			Interval: cfg.RateLimit.CleanupInterval,
			Run:      func(context.Context) { mem.Cleanup() },
		}))
	}

	defaultLimiter, err := limiter.New(cfg.RateLimit.Default, store, time.Now)
	if err != nil {
		return fmt.Errorf("default rate limiter: %w", err)
	}
	authLimiter, err := limiter.New(cfg.RateLimit.Auth, store, time.Now)
	if err != nil {
		return fmt.Errorf("auth rate limiter: %w", err)
	}

	rlOpts := []middleware.RateLimitOption{middleware.WithRateLimitLogger(logger)}
	if cfg.RateLimit.PassOnStoreError {
		rlOpts = append(rlOpts, middleware.WithPassOnStoreError(logger))
	}

	// Authentication
	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, 5*time.Minute, jwks.WithMetrics(metrics))

	// Router
	router, err := proxy.NewRouter(proxy.Config{
		UpstreamURL:  cfg.UpstreamURL,
		IdentityURL:  cfg.IdentityURL,
		Classifier:   classifier,
		Metrics:      metrics,
		Authenticate: middleware.Auth(jwksClient, classifier, nil, metrics),
		AuthLimit:    middleware.RateLimit(authLimiter, classifier, metrics, rlOpts...),
		DefaultLimit: middleware.RateLimit(defaultLimiter, classifier, metrics, rlOpts...),
		Ready:        ready,
	})
	if err != nil {
		return fmt.Errorf("router initialization: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(classifier),
		middleware.MaxBodySize(classifier, maxBodyBytes),
	))

	srv := server.New(cfg.GatewayAddr, mux, append(serverOpts, server.WithLogger(logger))...)

	slog.Info("gateway starting",
		"addr", cfg.GatewayAddr,
		"disclosure", cfg.Disclosure().String(),
		"log_sinks", cfg.LogSinks,
		"ratelimit_store", cfg.RateLimit.Store,
		"default_policy", fmt.Sprintf("%d/%s", cfg.RateLimit.Default.Max, cfg.RateLimit.Default.Window),
		"auth_policy", fmt.Sprintf("%d/%s", cfg.RateLimit.Auth.Max, cfg.RateLimit.Auth.Window),
		"upstream_url", cfg.UpstreamURL,
		"identity_url", cfg.IdentityURL,
		"jwks_endpoint", cfg.JWKSEndpoint,
	)

	return srv.Run(ctx)
}

// buildSink assembles the classifier's log sink from LOG_SINK names. Each
// backend is wrapped in logsink.Safe so one failing backend cannot starve
// the others.
func buildSink(names []string, logger *slog.Logger) (gw.LogSink, func(), error) {
	var sinks logsink.Multi
	closeFn := func() {}

	for _, name := range names {
		switch name {
		case "slog":
			sinks = append(sinks, logsink.NewSafe(logsink.NewSlog(logger), logger))
		case "zap":
			zl, err := zap.NewProduction()
			if err != nil {
				return nil, nil, fmt.Errorf("zap logger: %w", err)
			}
			closeFn = func() { _ = zl.Sync() }
			sinks = append(sinks, logsink.NewSafe(logsink.NewZap(zl), logger))
		default:
			return nil, nil, fmt.Errorf("unknown LOG_SINK %q (want slog or zap)", name)
		}
	}

	if len(sinks) == 1 {
		return sinks[0], closeFn, nil
	}
	return sinks, closeFn, nil
}
