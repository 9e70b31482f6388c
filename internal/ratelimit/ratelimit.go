// Package ratelimit implements the per-tenant sliding-window request
// budget: a thin layer over the cache's velocity primitives, fail-open
// when the cache is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

const window = time.Minute

// Limiter enforces a per-tier requests-per-minute budget.
type Limiter struct {
	cache domain.Cache
	tiers map[domain.ClientTier]int
	now   func() time.Time
}

func New(cache domain.Cache, tiers map[domain.ClientTier]int) *Limiter {
	return &Limiter{cache: cache, tiers: tiers, now: time.Now}
}

// Result carries the admission decision and the information needed to
// build a 429 response when denied.
type Result struct {
	Admitted   bool
	Limit      int
	RetryAfter time.Duration
	Degraded   bool
}

// Allow records this request in the tenant's sliding one-minute window
// and compares the window count against the tier's budget. The window
// slides over individual request timestamps, so there is no burst
// doubling at fixed-bucket boundaries. On cache failure it fails open:
// the request is admitted and Degraded is set so the caller can log/flag
// it.
func (l *Limiter) Allow(ctx context.Context, tenantID string, tier domain.ClientTier) Result {
	limit, ok := l.tiers[tier]
	if !ok || limit <= 0 {
		limit = l.tiers[domain.ClientTierBronze]
	}

	key := fmt.Sprintf("ratelimit:%s", tenantID)
	now := l.now()
	ts := float64(now.UnixNano()) / 1e9

	if err := l.cache.VelocityAdd(ctx, tenantID, key, uuid.New().String(), ts, window); err != nil {
		slog.Warn("ratelimit: cache unreachable, failing open", "tenant", tenantID, "error", err)
		return Result{Admitted: true, Limit: limit, Degraded: true}
	}

	count, err := l.cache.VelocityCount(ctx, tenantID, key, ts-window.Seconds())
	if err != nil {
		slog.Warn("ratelimit: cache unreachable, failing open", "tenant", tenantID, "error", err)
		return Result{Admitted: true, Limit: limit, Degraded: true}
	}

	if int(count) > limit {
		return Result{Admitted: false, Limit: limit, RetryAfter: window}
	}
	return Result{Admitted: true, Limit: limit}
}
