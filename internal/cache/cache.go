// Package cache implements the domain.Cache key/value, counter, and
// sliding-window substrate backing idempotency, rate limiting, and
// velocity.
package cache

import (
	"context"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// New constructs a Cache from configuration: an in-process LRU for the
// community tier, a Redis client for the pro tier, or a two-phase
// composite of both.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRU(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhase(NewLRU(cfg.LocalMaxSize), NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)), nil
		}
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	default:
		return nil, domain.NewError(domain.KindConfigError, "cache: unknown type "+cfg.Type, nil)
	}
}

// TwoPhaseCache checks an in-process L1 before falling through to a
// remote L2, writing through to both on Set. Velocity/counter mutation
// authority always lives at L2 so that counts stay consistent across
// server instances; L1 only accelerates Get/Set of idempotency results.
type TwoPhaseCache struct {
	l1 *LRUCache
	l2 domain.Cache
}

func NewTwoPhase(l1 *LRUCache, l2 domain.Cache) *TwoPhaseCache {
	return &TwoPhaseCache{l1: l1, l2: l2}
}

func (t *TwoPhaseCache) Get(ctx context.Context, tenantID, key string) ([]byte, bool, error) {
	if v, ok, _ := t.l1.Get(ctx, tenantID, key); ok {
		return v, true, nil
	}
	v, ok, err := t.l2.Get(ctx, tenantID, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		_ = t.l1.Set(ctx, tenantID, key, v, time.Minute)
	}
	return v, ok, nil
}

func (t *TwoPhaseCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, tenantID, key, value, ttl)
	return t.l2.Set(ctx, tenantID, key, value, ttl)
}

func (t *TwoPhaseCache) Delete(ctx context.Context, tenantID, key string) error {
	_ = t.l1.Delete(ctx, tenantID, key)
	return t.l2.Delete(ctx, tenantID, key)
}

func (t *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID, key string, ttl time.Duration) (int64, error) {
	return t.l2.IncrementCounter(ctx, tenantID, key, ttl)
}

func (t *TwoPhaseCache) VelocityAdd(ctx context.Context, tenantID, key, member string, score float64, ttl time.Duration) error {
	return t.l2.VelocityAdd(ctx, tenantID, key, member, score, ttl)
}

func (t *TwoPhaseCache) VelocityCount(ctx context.Context, tenantID, key string, since float64) (int64, error) {
	return t.l2.VelocityCount(ctx, tenantID, key, since)
}

func (t *TwoPhaseCache) Ping(ctx context.Context) error { return t.l2.Ping(ctx) }
func (t *TwoPhaseCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}

var _ domain.Cache = (*TwoPhaseCache)(nil)
