package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
	"resilience/internal/platform/telemetry"
)

const maxClockSkew = 30 * time.Second

// MsgNotLoggedIn is returned when a protected route is called without a
// bearer token.
const MsgNotLoggedIn = "You are not logged in! Please log in to get access."

// Auth validates RS256 JWT bearer tokens against keys from jwks and stores
// the resulting principal in the request context.
//
// Failures are handed to the classifier: a missing token is an operational
// 401, and any token that fails to parse or verify surfaces as the uniform
// invalid-token 401. Paths in publicPaths are exempt; an entry ending in "/"
// exempts every path under it. m may be nil.
func Auth(jwks gw.JWKSProvider, c *classify.Classifier, publicPaths []string, m *telemetry.Metrics) Middleware {
	exact := make(map[string]struct{}, len(publicPaths))
	var prefixes []string
	for _, p := range publicPaths {
		if strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		exact[p] = struct{}{}
	}
	isPublic := func(path string) bool {
		if _, ok := exact[path]; ok {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				m.RecordAuthValidation(r.Context(), "missing")
				c.Write(w, r, domain.WrapAppError(domain.ErrUnauthorized, MsgNotLoggedIn, http.StatusUnauthorized))
				return
			}

			// Only RS256 is accepted, which rules out alg=none and HMAC
			// confusion with the public key.
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				kid, ok := t.Header["kid"].(string)
				if !ok || kid == "" {
					return nil, domain.ErrInvalidToken
				}
				return jwks.GetKey(r.Context(), kid)
			},
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithLeeway(maxClockSkew),
			)
			if err == nil && !token.Valid {
				err = domain.ErrInvalidToken
			}

			var principal domain.Principal
			if err == nil {
				principal, err = extractPrincipal(token.Claims)
			}
			if err != nil {
				m.RecordAuthValidation(r.Context(), "failure")
				c.Write(w, r, fmt.Errorf("authenticating request: %w", err))
				return
			}

			m.RecordAuthValidation(r.Context(), "success")
			next.ServeHTTP(w, r.WithContext(gw.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func extractPrincipal(claims jwt.Claims) (domain.Principal, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	ptype := domain.PrincipalUser
	if typeStr, ok := mc["type"].(string); ok && typeStr == "service" {
		ptype = domain.PrincipalService
	}

	var scopes []domain.Scope
	if scopeStr, ok := mc["scopes"].(string); ok && scopeStr != "" {
		fields := strings.Fields(scopeStr)
		scopes = make([]domain.Scope, len(fields))
		for i, s := range fields {
			scopes[i] = domain.Scope(s)
		}
	}

	return domain.Principal{
		ID:     sub,
		Type:   ptype,
		Scopes: scopes,
	}, nil
}
