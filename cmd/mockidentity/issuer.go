package main

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"resilience/internal/domain"
)

// defaultScopes are granted to every mock principal.
var defaultScopes = []string{"orders:read", "orders:write", "echo:read", "echo:write"}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// issuer signs RS256 access tokens for seeded users and API keys.
type issuer struct {
	kid     string
	key     *rsa.PrivateKey
	ttl     time.Duration
	users   map[string]string // username -> password
	apiKeys map[string]string // key -> service account
	now     func() time.Time
}

func (is *issuer) jwks(w http.ResponseWriter, _ *http.Request) error {
	pub := &is.key.PublicKey
	return writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": is.kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	})
}

func (is *issuer) token(w http.ResponseWriter, r *http.Request) error {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.WrapAppError(err, "Request body must be valid JSON", http.StatusBadRequest)
	}

	principal, err := is.authenticate(req)
	if err != nil {
		return err
	}

	signed, err := is.sign(principal)
	if err != nil {
		return fmt.Errorf("signing token for %s: %w", principal.ID, err)
	}
	return writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		ExpiresIn:   int(is.ttl.Seconds()),
		TokenType:   "Bearer",
	})
}

func (is *issuer) authenticate(req tokenRequest) (domain.Principal, error) {
	switch {
	case req.APIKey != "":
		id, ok := is.apiKeys[req.APIKey]
		if !ok {
			return domain.Principal{}, domain.WrapAppError(domain.ErrInvalidCredentials, "Invalid API key", http.StatusUnauthorized)
		}
		return domain.Principal{ID: id, Type: domain.PrincipalService}, nil
	case req.Username != "" || req.Password != "":
		var missing domain.ValidationErrors
		if req.Username == "" {
			missing = append(missing, domain.ValidationError{Param: "username", Msg: "is required"})
		}
		if req.Password == "" {
			missing = append(missing, domain.ValidationError{Param: "password", Msg: "is required"})
		}
		if len(missing) > 0 {
			return domain.Principal{}, missing
		}
		if expected, ok := is.users[req.Username]; !ok || expected != req.Password {
			return domain.Principal{}, domain.WrapAppError(domain.ErrInvalidCredentials, "Incorrect username or password", http.StatusUnauthorized)
		}
		return domain.Principal{ID: req.Username, Type: domain.PrincipalUser}, nil
	default:
		return domain.Principal{}, domain.NewAppError("Provide username and password or api_key", http.StatusBadRequest)
	}
}

func (is *issuer) sign(p domain.Principal) (string, error) {
	if is.key == nil {
		return "", errors.New("signing key not loaded")
	}
	now := is.now()
	claims := jwt.MapClaims{
		"sub":    p.ID,
		"type":   p.Type.String(),
		"scopes": strings.Join(defaultScopes, " "),
		"iat":    now.Unix(),
		"exp":    now.Add(is.ttl).Unix(),
		"iss":    "mock-identity",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = is.kid
	return token.SignedString(is.key)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
