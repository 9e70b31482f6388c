// Package velocity computes sliding-window event counts per
// (scope, subject, window), backed entirely by the cache substrate.
// Windows slide over a sorted set of event timestamps rather than fixed
// buckets, so counts stay accurate near window boundaries.
package velocity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Service records and reads velocity counters.
type Service struct {
	cache domain.Cache
	now   func() float64
}

func New(cache domain.Cache, nowFn func() float64) *Service {
	return &Service{cache: cache, now: nowFn}
}

func key(scope domain.Scope, subject string) string {
	return fmt.Sprintf("velocity:%s:%s", scope, subject)
}

// Record adds one event for (scope, subject) into every standard window's
// sorted set. Each window is its own cache key so trimming one window
// never affects another.
func (s *Service) Record(ctx context.Context, tenantID string, scope domain.Scope, subject, eventID string) {
	ts := s.now()
	for _, w := range domain.StandardWindows {
		k := key(scope, subject) + ":" + string(w)
		if err := s.cache.VelocityAdd(ctx, tenantID, k, eventID, ts, w.Duration()); err != nil {
			slog.Warn("velocity: record failed", "scope", scope, "window", w, "error", err)
		}
	}
}

// Counts returns the event count for (scope, subject) over every standard
// window. On a cache error for a given window the count is 0 and the
// caller is expected to mark the context degraded.
func (s *Service) Counts(ctx context.Context, tenantID string, scope domain.Scope, subject string) (domain.VelocityCounts, error) {
	out := make(domain.VelocityCounts, len(domain.StandardWindows))
	ts := s.now()
	var firstErr error
	for _, w := range domain.StandardWindows {
		k := key(scope, subject) + ":" + string(w)
		since := ts - w.Duration().Seconds()
		count, err := s.cache.VelocityCount(ctx, tenantID, k, since)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[w] = count
	}
	return out, firstErr
}
