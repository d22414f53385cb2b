// Package proxy routes boundary traffic to the identity service and the
// upstream application, applying the per-route-class gates on the way.
package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
	"resilience/internal/gateway/middleware"
	"resilience/internal/platform/telemetry"
)

// MsgForbidden is returned when a principal lacks the scope for a route.
const MsgForbidden = "You do not have permission to perform this action"

// Config wires a Router.
type Config struct {
	UpstreamURL string
	IdentityURL string

	Classifier *classify.Classifier
	Metrics    *telemetry.Metrics // optional

	// Authenticate guards /api/. Nil leaves it open, which then fails the
	// scope check with 401.
	Authenticate middleware.Middleware
	// AuthLimit gates credential routes under /auth/.
	AuthLimit middleware.Middleware
	// DefaultLimit gates everything else except health checks.
	DefaultLimit middleware.Middleware

	// Ready reports readiness for /readyz. Nil means always ready.
	Ready func() error
}

// Router dispatches requests by route class:
//
//	/auth/...               identity service, auth policy
//	/.well-known/jwks.json  identity service, default policy
//	/api/...                upstream, authenticated, default policy
//	anything else           404 through the classifier, default policy
type Router struct {
	mux        *http.ServeMux
	classifier *classify.Classifier
	metrics    *telemetry.Metrics
	ready      func() error
}

// NewRouter builds the route table.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("proxy: classifier is required")
	}
	upstream, err := parseBackendURL("upstream", cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}
	identity, err := parseBackendURL("identity", cfg.IdentityURL)
	if err != nil {
		return nil, err
	}

	r := &Router{
		mux:        http.NewServeMux(),
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
		ready:      cfg.Ready,
	}

	authLimit := orPassthrough(cfg.AuthLimit)
	defaultLimit := orPassthrough(cfg.DefaultLimit)
	authenticate := orPassthrough(cfg.Authenticate)

	identityProxy := r.reverseProxy("identity", identity, false)
	upstreamProxy := r.reverseProxy("upstream", upstream, true)

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)

	r.mux.Handle("/auth/", authLimit(identityProxy))
	r.mux.Handle("GET /.well-known/jwks.json", defaultLimit(identityProxy))
	r.mux.Handle("/api/", defaultLimit(authenticate(r.requireScope(upstreamProxy))))
	r.mux.Handle("/", defaultLimit(classify.NotFound(r.classifier)))

	return r, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func parseBackendURL(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse %s URL: %q is not absolute", name, raw)
	}
	return u, nil
}

func orPassthrough(mw middleware.Middleware) middleware.Middleware {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// reverseProxy forwards to target. Transport failures become an operational
// 502 through the classifier. With withPrincipal, the bearer token is
// replaced by principal headers the upstream trusts.
func (r *Router) reverseProxy(backend string, target *url.URL, withPrincipal bool) http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host

			if reqID := gw.RequestIDFromContext(pr.In.Context()); reqID != "" {
				pr.Out.Header.Set("X-Request-ID", reqID)
			}
			if !withPrincipal {
				return
			}
			pr.Out.Header.Del("Authorization")
			if principal, ok := gw.PrincipalFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("X-Principal-ID", principal.ID)
				pr.Out.Header.Set("X-Principal-Type", principal.Type.String())
				pr.Out.Header.Set("X-Principal-Scopes", joinScopes(principal.Scopes))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			r.classifier.Write(w, req, domain.WrapAppError(
				fmt.Errorf("proxying to %s: %w", backend, err),
				"Upstream service unavailable",
				http.StatusBadGateway,
			))
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		rp.ServeHTTP(sw, req)
		r.metrics.RecordProxyRequest(req.Context(), backend, sw.Code, time.Since(start).Seconds())
	})
}

// requireScope maps /api/<resource>/... to <resource>:read for safe methods
// and <resource>:write otherwise.
func (r *Router) requireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		principal, ok := gw.PrincipalFromContext(req.Context())
		if !ok {
			r.classifier.Write(w, req, domain.WrapAppError(domain.ErrUnauthorized, middleware.MsgNotLoggedIn, http.StatusUnauthorized))
			return
		}
		if !principal.HasScope(requiredScope(req)) {
			r.classifier.Write(w, req, domain.WrapAppError(domain.ErrForbidden, MsgForbidden, http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func requiredScope(req *http.Request) domain.Scope {
	rest := strings.TrimPrefix(req.URL.Path, "/api/")
	resource, _, _ := strings.Cut(rest, "/")
	access := "read"
	if isWriteMethod(req.Method) {
		access = "write"
	}
	return domain.Scope(resource + ":" + access)
}

func joinScopes(scopes []domain.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

func (r *Router) readyz(w http.ResponseWriter, req *http.Request) {
	if r.ready != nil {
		if err := r.ready(); err != nil {
			r.classifier.Write(w, req, domain.WrapAppError(err, "Service not ready", http.StatusServiceUnavailable))
			return
		}
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		slog.Error("encoding status response", "error", err)
	}
}

func isWriteMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut ||
		method == http.MethodPatch || method == http.MethodDelete
}
