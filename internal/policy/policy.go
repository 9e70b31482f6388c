// Package policy holds the vertical decision policy: per-vertical
// threshold, per-(rule,vertical) weight override, per-(rule,vertical)
// enable bit. Readers never block; writers publish a new immutable
// snapshot and swap a reference.
package policy

import (
	"sync/atomic"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Snapshot is an immutable mapping of vertical to its config. Once
// published, a Snapshot is never mutated.
type Snapshot map[domain.Vertical]domain.VerticalConfig

// Store publishes and serves Snapshots via a lock-free atomic pointer
// swap.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore builds a Store seeded with the default threshold per vertical
// and no weight/enable overrides.
func NewStore(thresholds map[domain.Vertical]int) *Store {
	snap := make(Snapshot, len(thresholds))
	for v, t := range thresholds {
		snap[v] = domain.VerticalConfig{
			Vertical:    v,
			Threshold:   t,
			RuleWeights: map[string]float64{},
			RuleEnabled: map[string]bool{},
		}
	}
	s := &Store{}
	s.ptr.Store(&snap)
	return s
}

// Get returns the current config for a vertical, or the zero value with
// ok=false if the vertical is unknown.
func (s *Store) Get(v domain.Vertical) (domain.VerticalConfig, bool) {
	snap := *s.ptr.Load()
	cfg, ok := snap[v]
	return cfg, ok
}

// All returns every vertical's current config, for GET /api/v1/verticals.
func (s *Store) All() Snapshot {
	return *s.ptr.Load()
}

// SetThreshold publishes a new snapshot with vertical's threshold
// replaced, leaving every other vertical and every weight/enable override
// untouched. Takes effect on the next Get call — hot-reload with no
// restart.
func (s *Store) SetThreshold(v domain.Vertical, threshold int) {
	s.mutate(v, func(cfg *domain.VerticalConfig) { cfg.Threshold = threshold })
}

// SetRuleWeight publishes a new snapshot with one rule's weight override
// replaced. Weight 0.0 disables the rule outright for this vertical.
func (s *Store) SetRuleWeight(v domain.Vertical, ruleName string, weight float64) {
	s.mutate(v, func(cfg *domain.VerticalConfig) {
		cfg.RuleWeights = cloneFloatMap(cfg.RuleWeights)
		cfg.RuleWeights[ruleName] = weight
	})
}

// SetRuleEnabled publishes a new snapshot with one rule's enable bit
// replaced.
func (s *Store) SetRuleEnabled(v domain.Vertical, ruleName string, enabled bool) {
	s.mutate(v, func(cfg *domain.VerticalConfig) {
		cfg.RuleEnabled = cloneBoolMap(cfg.RuleEnabled)
		cfg.RuleEnabled[ruleName] = enabled
	})
}

// mutate publishes a new snapshot via compare-and-swap, retrying from
// the fresh snapshot if another writer published in between so no update
// is lost.
func (s *Store) mutate(v domain.Vertical, fn func(*domain.VerticalConfig)) {
	for {
		oldPtr := s.ptr.Load()
		old := *oldPtr
		next := make(Snapshot, len(old))
		for k, cfg := range old {
			next[k] = cfg
		}
		cfg, ok := next[v]
		if !ok {
			cfg = domain.VerticalConfig{Vertical: v, RuleWeights: map[string]float64{}, RuleEnabled: map[string]bool{}}
		}
		fn(&cfg)
		next[v] = cfg
		if s.ptr.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
