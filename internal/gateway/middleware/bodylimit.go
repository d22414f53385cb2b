package middleware

import (
	"fmt"
	"net/http"

	"resilience/internal/domain"
	"resilience/internal/gateway/classify"
)

// MaxBodySize limits request bodies to maxBytes. A declared Content-Length
// over the limit is rejected up front with 413; bodies that only turn out to
// be too large fail when the handler reads past the limit.
func MaxBodySize(c *classify.Classifier, maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				c.Write(w, r, domain.NewAppError(
					fmt.Sprintf("Request body exceeds %d bytes", maxBytes),
					http.StatusRequestEntityTooLarge,
				))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
