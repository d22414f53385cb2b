package middleware

import (
	"net/http"
	"runtime/debug"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
)

// Recovery converts panics from downstream handlers into programmer errors
// and hands them to the classifier. http.ErrAbortHandler is re-raised so the
// server can abort the connection.
func Recovery(c *classify.Classifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err := domain.NewPanicError(v, debug.Stack())
				if sw.Written() {
					c.Classify(r.Context(), err, classify.RequestInfoFrom(r))
					return
				}
				c.Write(sw, r, err)
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
