package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
	"resilience/internal/platform/telemetry"
)

// KeyFunc derives the client key a request is counted under.
type KeyFunc func(r *http.Request, trustProxy bool) string

// RateLimitOption configures the RateLimit middleware.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	keyFunc          KeyFunc
	passOnStoreError bool
	logger           *slog.Logger
	now              func() time.Time
}

// WithKeyFunc overrides ClientKey.
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(c *rateLimitConfig) { c.keyFunc = fn }
}

// WithPassOnStoreError admits requests when the counter store fails instead
// of failing them with 500. Each admission is logged at warn level.
func WithPassOnStoreError(logger *slog.Logger) RateLimitOption {
	return func(c *rateLimitConfig) {
		c.passOnStoreError = true
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimitLogger sets the logger for rejections and store failures.
func WithRateLimitLogger(logger *slog.Logger) RateLimitOption {
	return func(c *rateLimitConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimitClock sets the clock used for the RateLimit-Reset header.
func WithRateLimitClock(clock func() time.Time) RateLimitOption {
	return func(c *rateLimitConfig) { c.now = clock }
}

// RateLimit enforces the limiter's policy per client key. Every response
// carries RateLimit-* headers. Rejected requests get 429 with the policy's
// message and never reach next. Store failures go to the classifier unless
// WithPassOnStoreError is set. m may be nil.
func RateLimit(limiter gw.RateLimiter, c *classify.Classifier, m *telemetry.Metrics, opts ...RateLimitOption) Middleware {
	cfg := rateLimitConfig{
		keyFunc: ClientKey,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	policy := limiter.Policy()
	policyHeader := fmt.Sprintf("%d;w=%d", policy.Max, int(policy.Window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.keyFunc(r, policy.TrustProxy)

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				m.RecordRateLimitDecision(r.Context(), policy.Name, "error")
				if cfg.passOnStoreError {
					cfg.logger.Warn("rate limit store unavailable, admitting request",
						"policy", policy.Name,
						"error", err,
						"request_id", gw.RequestIDFromContext(r.Context()),
					)
					next.ServeHTTP(w, r)
					return
				}
				c.Write(w, r, err)
				return
			}

			h := w.Header()
			h.Set("RateLimit-Policy", policyHeader)
			h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(res.ResetAt.Sub(cfg.now()))))

			if !res.Allowed {
				m.RecordRateLimitDecision(r.Context(), policy.Name, "denied")
				cfg.logger.DebugContext(r.Context(), "request rejected",
					"kind", domain.KindRateLimited.String(),
					"error", domain.ErrRateLimited,
					"policy", policy.Name,
					"key", key,
				)
				h.Set("Retry-After", strconv.Itoa(ceilSeconds(res.RetryAfter)))
				writeRateLimited(w, policy.Message)
				return
			}

			m.RecordRateLimitDecision(r.Context(), policy.Name, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the client by IP. With trustProxy the first
// X-Forwarded-For hop is used when present; otherwise the connection's
// remote address.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeRateLimited(w http.ResponseWriter, message string) {
	if message == "" {
		message = http.StatusText(http.StatusTooManyRequests)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Status:  domain.StatusError,
		Message: message,
	}); err != nil {
		slog.Error("encoding rate limit response", "error", err)
	}
}
