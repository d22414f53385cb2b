// Package logsink provides gateway.LogSink implementations for the error
// classifier's audit records.
package logsink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	gw "resilience/internal/gateway"
)

const recordMessage = "request failed"

// Slog writes records through a slog.Logger at error level, or warn level
// for 4xx responses.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a sink writing to logger. A nil logger uses slog.Default().
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

// Record implements gateway.LogSink.
func (s *Slog) Record(ctx context.Context, rec gw.LogRecord) {
	attrs := []slog.Attr{
		slog.String("kind", rec.Kind.String()),
		slog.String("error", rec.Message),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.Int("status", rec.StatusCode),
	}
	if rec.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", rec.RequestID))
	}
	if rec.Stack != "" {
		attrs = append(attrs, slog.String("stack", rec.Stack))
	}
	s.logger.LogAttrs(ctx, levelFor(rec.StatusCode), recordMessage, attrs...)
}

func levelFor(status int) slog.Level {
	if status < 500 {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// Zap writes records through a zap.Logger.
type Zap struct {
	logger *zap.Logger
}

// NewZap creates a sink writing to logger. A nil logger discards records.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

// Record implements gateway.LogSink.
func (z *Zap) Record(_ context.Context, rec gw.LogRecord) {
	fields := []zap.Field{
		zap.String("kind", rec.Kind.String()),
		zap.String("error", rec.Message),
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
		zap.Int("status", rec.StatusCode),
	}
	if rec.RequestID != "" {
		fields = append(fields, zap.String("request_id", rec.RequestID))
	}
	if rec.Stack != "" {
		fields = append(fields, zap.String("stack", rec.Stack))
	}

	if rec.StatusCode < 500 {
		z.logger.Warn(recordMessage, fields...)
		return
	}
	z.logger.Error(recordMessage, fields...)
}

// Multi fans a record out to every sink in order. Wrap members in Safe if one
// failing sink must not starve the rest.
type Multi []gw.LogSink

// Record implements gateway.LogSink.
func (m Multi) Record(ctx context.Context, rec gw.LogRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

// Safe wraps a sink so that a panicking backend never reaches the request
// path. Failures are reported to logger at most once per second.
type Safe struct {
	sink      gw.LogSink
	logger    *slog.Logger
	sometimes *rate.Sometimes
	dropped   atomic.Int64
}

// NewSafe wraps sink. A nil logger uses slog.Default().
func NewSafe(sink gw.LogSink, logger *slog.Logger) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{
		sink:      sink,
		logger:    logger,
		sometimes: &rate.Sometimes{First: 1, Interval: time.Second},
	}
}

// Record implements gateway.LogSink.
func (s *Safe) Record(ctx context.Context, rec gw.LogRecord) {
	defer func() {
		if v := recover(); v != nil {
			n := s.dropped.Add(1)
			s.sometimes.Do(func() {
				s.logger.Warn("log sink failed",
					"panic", v,
					"dropped_total", n,
					"request_id", rec.RequestID,
				)
			})
		}
	}()
	s.sink.Record(ctx, rec)
}

// Dropped returns how many records were lost to sink failures.
func (s *Safe) Dropped() int64 { return s.dropped.Load() }
