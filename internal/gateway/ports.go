package gateway

import (
	"context"
	"crypto/rsa"
	"net/http"
	"time"

	"resilience/internal/domain"
)

// JWKSProvider fetches and caches public keys from the Identity Service's JWKS endpoint.
type JWKSProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RateLimiter decides whether a request identified by key should be admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
	Policy() domain.RateLimitPolicy
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero if allowed
}

// Bucket is the counter state for one client key in its current window.
type Bucket struct {
	Key         string
	Count       int
	WindowStart time.Time
	ResetAt     time.Time
}

// CounterStore owns fixed-window counters. Implementations must make
// Increment atomic per key: an in-process map for a single instance, or a
// shared store when the boundary runs as several processes.
type CounterStore interface {
	// Increment counts one request for key if the bucket holds fewer than
	// limit, and reports whether it did. A key with no live window starts a
	// new one of the given length at Count 1. Count never exceeds limit.
	Increment(ctx context.Context, key string, window time.Duration, limit int) (Bucket, bool, error)
	// Get returns the live bucket for key, if any.
	Get(ctx context.Context, key string) (Bucket, bool, error)
	// Reset discards the bucket for key.
	Reset(ctx context.Context, key string) error
}

// LogRecord is the audit entry written once per classified error.
type LogRecord struct {
	Message    string
	Stack      string
	Path       string
	Method     string
	StatusCode int
	Kind       domain.ErrorKind
	RequestID  string
}

// LogSink accepts log records. Record must not panic or block the caller on
// failure; sinks report their own errors out of band.
type LogSink interface {
	Record(ctx context.Context, rec LogRecord)
}

// HandlerFunc is an HTTP handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code        int
	wroteHeader bool
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.wroteHeader = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *StatusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Written reports whether the response has been started.
func (sw *StatusWriter) Written() bool { return sw.wroteHeader }

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// PrincipalFromContext extracts the authenticated principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
