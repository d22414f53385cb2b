// Package server runs an http.Server with graceful shutdown and optional
// background maintenance jobs tied to the server's lifetime.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// Job is periodic maintenance run while the server is up.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Server wraps an http.Server with graceful shutdown.
type Server struct {
	srv             *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
	jobs            []Job
	onShutdown      []func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the lifecycle logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithShutdownTimeout bounds how long in-flight requests may drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithJob runs job every job.Interval until shutdown starts.
func WithJob(job Job) Option {
	return func(s *Server) { s.jobs = append(s.jobs, job) }
}

// WithOnShutdown registers fn to run after the listener has drained, in
// registration order.
func WithOnShutdown(fn func(context.Context) error) Option {
	return func(s *Server) { s.onShutdown = append(s.onShutdown, fn) }
}

// New creates a Server that listens on addr and routes to handler.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger:          slog.Default(),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the server and blocks until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	jobCtx, stopJobs := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJob(jobCtx, job)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	stopJobs()
	wg.Wait()

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if runErr == nil {
		errs = append(errs, s.srv.Shutdown(shutdownCtx))
	}
	for _, fn := range s.onShutdown {
		errs = append(errs, fn(shutdownCtx))
	}
	return errors.Join(errs...)
}

func (s *Server) runJob(ctx context.Context, job Job) {
	if job.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("background job stopped", "job", job.Name)
			return
		case <-ticker.C:
			job.Run(ctx)
		}
	}
}
