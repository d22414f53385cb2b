package middleware

import (
	"log/slog"
	"net/http"
	"time"

	gw "resilience/internal/gateway"
)

// Logging writes one access log line per request. Server errors log at
// error level and client errors at warn; details of the failure itself are
// in the classifier's record for the same request_id.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			principal, _ := gw.PrincipalFromContext(r.Context())
			level := slog.LevelInfo
			switch {
			case sw.Code >= 500:
				level = slog.LevelError
			case sw.Code >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.Code),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
				slog.String("request_id", gw.RequestIDFromContext(r.Context())),
				slog.String("principal_id", principal.ID),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
