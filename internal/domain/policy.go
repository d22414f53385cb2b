package domain

import (
	"errors"
	"time"
)

// RateLimitPolicy configures one admission gate. Each route class owns one.
type RateLimitPolicy struct {
	Name       string
	Window     time.Duration
	Max        int
	TrustProxy bool
	Message    string
}

// DefaultPolicy guards general API routes.
func DefaultPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Name:    "default",
		Window:  2 * time.Minute,
		Max:     100,
		Message: "Too many requests from this IP, please try again after 2 minutes",
	}
}

// AuthPolicy guards credential endpoints.
func AuthPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Name:    "auth",
		Window:  15 * time.Minute,
		Max:     30,
		Message: "Too many login attempts from this IP, please try again after 15 minutes",
	}
}

// Validate rejects policies that could never admit a request.
func (p RateLimitPolicy) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("rate limit policy: name is required")
	case p.Window <= 0:
		return errors.New("rate limit policy: window must be positive")
	case p.Max <= 0:
		return errors.New("rate limit policy: max must be positive")
	}
	return nil
}
