package inmem

import (
	"context"
	"sync"
	"time"

	"resilience/internal/gateway"
)

// Store keeps fixed-window counters in process memory. A window starts at
// the first request seen for a key and is replaced by the first request that
// arrives after it elapses.
//
// Counts are only shared by requests served from the same process. Use a
// shared store when running several instances.
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (b *bucket) resetAt() time.Time { return b.windowStart.Add(b.window) }

func (b *bucket) view(key string) gateway.Bucket {
	return gateway.Bucket{
		Key:         key,
		Count:       b.count,
		WindowStart: b.windowStart,
		ResetAt:     b.resetAt(),
	}
}

// NewStore creates an empty store.
// clock is injectable for deterministic testing.
func NewStore(clock func() time.Time) *Store {
	return &Store{
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Increment counts one request for key while the bucket is below limit.
// The check and the increment happen under one lock.
func (s *Store) Increment(_ context.Context, key string, window time.Duration, limit int) (gateway.Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, exists := s.buckets[key]
	if !exists || !now.Before(b.resetAt()) {
		b = &bucket{windowStart: now, window: window}
		s.buckets[key] = b
	}
	if b.count >= limit {
		return b.view(key), false, nil
	}
	b.count++

	return b.view(key), true, nil
}

// Get returns the live bucket for key.
func (s *Store) Get(_ context.Context, key string) (gateway.Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || !s.now().Before(b.resetAt()) {
		return gateway.Bucket{}, false, nil
	}
	return b.view(key), true, nil
}

// Reset discards the bucket for key.
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Cleanup removes buckets whose window has elapsed. A later request for the
// same key would have replaced them anyway.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if !now.Before(b.resetAt()) {
			delete(s.buckets, key)
		}
	}
}

// BucketCount returns the number of live buckets (for testing).
func (s *Store) BucketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
