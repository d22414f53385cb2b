package middleware

import (
	"net/http"

	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
)

// Handle adapts an error-returning handler. A returned error is funnelled to
// the classifier. If fn already started the response, the error is still
// recorded but nothing more is written.
func Handle(c *classify.Classifier, fn gw.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		err := fn(sw, r)
		if err == nil {
			return
		}
		if sw.Written() {
			c.Classify(r.Context(), err, classify.RequestInfoFrom(r))
			return
		}
		c.Write(sw, r, err)
	})
}
