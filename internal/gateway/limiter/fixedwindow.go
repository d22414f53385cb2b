// Package limiter implements fixed-window admission over a CounterStore.
package limiter

import (
	"context"
	"fmt"
	"time"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
)

// FixedWindow admits at most policy.Max requests per client key in each
// window. The window opens at the first request for a key; the first request
// after it elapses opens the next one.
type FixedWindow struct {
	policy domain.RateLimitPolicy
	store  gw.CounterStore
	now    func() time.Time
}

// New creates a limiter for policy. Keys are namespaced by policy name, so
// several limiters may share one store without their counts interfering.
// clock is injectable for deterministic testing.
func New(policy domain.RateLimitPolicy, store gw.CounterStore, clock func() time.Time) (*FixedWindow, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("rate limiter %q: store is required", policy.Name)
	}
	if clock == nil {
		clock = time.Now
	}
	return &FixedWindow{policy: policy, store: store, now: clock}, nil
}

// Policy returns the policy this limiter enforces.
func (l *FixedWindow) Policy() domain.RateLimitPolicy { return l.policy }

// Allow admits the request for key if its window has room, counting it.
// Rejected requests leave the count at Max.
func (l *FixedWindow) Allow(ctx context.Context, key string) (gw.RateLimitResult, error) {
	b, admitted, err := l.store.Increment(ctx, l.storeKey(key), l.policy.Window, l.policy.Max)
	if err != nil {
		return gw.RateLimitResult{}, fmt.Errorf("rate limiter %q: %w", l.policy.Name, err)
	}

	res := gw.RateLimitResult{
		Allowed:   admitted,
		Limit:     l.policy.Max,
		Remaining: max(l.policy.Max-b.Count, 0),
		ResetAt:   b.ResetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(b.ResetAt.Sub(l.now()), 0)
	}
	return res, nil
}

// Reset forgets the counter for key under this policy.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.storeKey(key))
}

func (l *FixedWindow) storeKey(key string) string {
	return l.policy.Name + ":" + key
}
