package domain

import (
	"context"
	"time"
)

// Cache is the key/value + atomic-counter + sliding-window substrate used
// for idempotency, rate limiting, and velocity. All keys are implicitly
// namespaced by tenant by the implementation.
type Cache interface {
	Get(ctx context.Context, tenantID, key string) ([]byte, bool, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	// IncrementCounter atomically increments key and sets ttl on the
	// first increment only. For simple fixed-window counters; the rate
	// limiter uses the velocity operations below instead.
	IncrementCounter(ctx context.Context, tenantID, key string, ttl time.Duration) (int64, error)

	// VelocityAdd records one event for (key) at the given score
	// (a unix timestamp in seconds) in a sliding-window sorted set,
	// trimmed to ttl on write.
	VelocityAdd(ctx context.Context, tenantID, key string, member string, score float64, ttl time.Duration) error

	// VelocityCount returns the number of events in the set with score >=
	// since. It does not trim the set; trimming happens in VelocityAdd.
	VelocityCount(ctx context.Context, tenantID, key string, since float64) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and configures a Cache implementation.
type CacheConfig struct {
	// Type: "memory" (the default) or "redis". With "redis",
	// EnableTwoPhase puts a local LRU in front of redis.
	Type string

	LocalMaxSize int
	LocalTTL     int // seconds

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EnableTwoPhase bool
}
