package middleware

import (
	"net/http"
	"time"

	gw "resilience/internal/gateway"
	"resilience/internal/platform/telemetry"
)

// Metrics records one request count and latency sample per request.
// Place it outermost so rejected and failed requests are counted too.
func Metrics(m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, sw.Code, time.Since(start).Seconds())
		})
	}
}
