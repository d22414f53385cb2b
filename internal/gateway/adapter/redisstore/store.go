// Package redisstore keeps fixed-window counters in Redis so that every
// boundary instance behind a load balancer sees the same counts.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	gw "resilience/internal/gateway"
)

// DefaultPrefix namespaces counter keys.
const DefaultPrefix = "ratelimit:"

// incrementScript counts one request while the bucket is below the limit
// and opens the window on the first one.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
// ARGV[2] = limit
// Returns {count, remaining ttl in milliseconds, 1 if counted else 0}.
var incrementScript = redis.NewScript(`
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	local counted = 0
	if count < tonumber(ARGV[2]) then
		count = redis.call('INCR', KEYS[1])
		counted = 1
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl, counted}
`)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements gateway.CounterStore on Redis. The window length is
// carried by the key's expiry, so a window ends for all instances at once.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock sets the clock used to turn key TTLs into reset times.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.now = clock }
}

// New wraps an existing client. The caller owns the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	if cfg.Prefix != "" {
		opts = append([]Option{WithPrefix(cfg.Prefix)}, opts...)
	}
	return New(client, opts...), nil
}

// Increment counts one request for key while the bucket is below limit.
// The check and the increment run as one script, so instances sharing the
// key never count past limit.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, limit int) (gw.Bucket, bool, error) {
	if window <= 0 {
		return gw.Bucket{}, false, fmt.Errorf("redis store: window must be positive, got %s", window)
	}

	vals, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return gw.Bucket{}, false, fmt.Errorf("redis store: increment %q: %w", key, err)
	}
	if len(vals) != 3 {
		return gw.Bucket{}, false, fmt.Errorf("redis store: increment %q: unexpected reply %v", key, vals)
	}

	resetAt := s.now().Add(time.Duration(vals[1]) * time.Millisecond)
	return gw.Bucket{
		Key:         key,
		Count:       int(vals[0]),
		WindowStart: resetAt.Add(-window),
		ResetAt:     resetAt,
	}, vals[2] == 1, nil
}

// Get returns the live bucket for key. WindowStart is not stored in Redis
// and is left zero.
func (s *Store) Get(ctx context.Context, key string) (gw.Bucket, bool, error) {
	k := s.prefix + key

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return gw.Bucket{}, false, fmt.Errorf("redis store: get %q: %w", key, err)
	}

	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return gw.Bucket{}, false, nil
	}
	if err != nil {
		return gw.Bucket{}, false, fmt.Errorf("redis store: get %q: %w", key, err)
	}

	b := gw.Bucket{Key: key, Count: count}
	if ttl := ttlCmd.Val(); ttl > 0 {
		b.ResetAt = s.now().Add(ttl)
	}
	return b, true, nil
}

// Reset discards the bucket for key.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis store: reset %q: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
