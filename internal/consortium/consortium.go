// Package consortium implements the only cross-tenant state in the
// system: a digest-keyed, tenant-agnostic index of how many tenants have
// observed an identifier and how many confirmed-fraud transactions have
// touched it.
package consortium

import (
	"context"
	"log/slog"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// IndexedKinds are the identifier kinds the consortium index tracks.
// Other digests (ip, user, card) stay tenant-scoped and never enter the
// cross-tenant index.
var IndexedKinds = map[string]bool{
	"phone": true, "email": true, "device": true, "national_id": true, "wallet": true,
}

// Service reads and updates the consortium index. It never exposes which
// tenants touched a digest, only counts.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

func New(repo domain.Repository, nowFn func() time.Time) *Service {
	return &Service{repo: repo, now: nowFn}
}

// Observe records that tenantID has seen digest "now." Safe to call on
// every request for every present identifier digest.
func (s *Service) Observe(ctx context.Context, digest, tenantID string) {
	if digest == "" {
		return
	}
	if err := s.repo.UpsertConsortiumObservation(ctx, digest, tenantID, s.now().Unix()); err != nil {
		slog.Warn("consortium: observation failed", "error", err)
	}
}

// Lookup returns the tenants-touched count and fraud-confirmation count
// for a digest, or (0, 0) if never observed.
func (s *Service) Lookup(ctx context.Context, digest string) (tenantsTouched int, fraudConfirmations int64, err error) {
	if digest == "" {
		return 0, 0, nil
	}
	entry, err := s.repo.GetConsortiumEntry(ctx, digest)
	if err != nil {
		if isNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return entry.TenantsTouched, entry.FraudConfirmations, nil
}

// ConfirmFraud increments the fraud-confirmation counter for a digest,
// called by the learning loop for every digest a confirmed-fraud
// transaction touched.
func (s *Service) ConfirmFraud(ctx context.Context, digest string) error {
	if digest == "" {
		return nil
	}
	return s.repo.IncrementConsortiumFraud(ctx, digest)
}

// AgeOut deletes entries not seen within retention. Returns the number
// of entries removed.
func (s *Service) AgeOut(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PruneConsortiumBefore(ctx, s.now().Add(-retention))
}

// RunAgeOut sweeps expired entries every interval until ctx is done.
func (s *Service) RunAgeOut(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.AgeOut(ctx, retention)
			if err != nil {
				slog.Warn("consortium: age-out sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("consortium: aged out entries", "count", n)
			}
		}
	}
}

func isNotFound(err error) bool {
	var de *domain.Error
	if e, ok := err.(*domain.Error); ok {
		de = e
	}
	return de != nil && de.Kind == domain.KindNotFound
}
