package classify

import (
	"net/http"

	"resilience/internal/domain"
)

// NotFound returns the handler mounted at the end of routing. It reports the
// unmatched URL as an operational 404, so the message is never masked and no
// stack is attached.
func NotFound(c *Classifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Write(w, r, domain.NewAppError("Not found - "+r.URL.RequestURI(), http.StatusNotFound))
	})
}
