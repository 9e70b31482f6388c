// Package learning implements the feedback loop that turns confirmed
// outcomes into adjusted rule weights. Each feedback submission updates
// per-rule accuracy counters, recomputes weight multipliers, and records
// fraud confirmations in the consortium index, all in one repository
// transaction.
package learning

import (
	"context"
	"errors"

	"github.com/fraudsvc/fraudsvc/internal/consortium"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/policy"
	"github.com/fraudsvc/fraudsvc/internal/rules"
)

// weightPublisher is the narrow slice of policy.Store the learning loop
// write-throughs into: new weight multipliers become visible to the next
// request without a restart. Staleness of up to one second is tolerable.
type weightPublisher interface {
	SetRuleWeight(v domain.Vertical, ruleName string, weight float64)
}

// Processor applies feedback submissions against the durable store and
// the in-memory rule-accuracy cache the policy layer reads from.
type Processor struct {
	repo     domain.Repository
	registry *rules.Registry
	policy   weightPublisher
}

func New(repo domain.Repository, registry *rules.Registry, policyStore *policy.Store) *Processor {
	return &Processor{repo: repo, registry: registry, policy: policyStore}
}

// Feedback runs the full algorithm: locate the transaction, validate the
// outcome transition, update every applicable rule's TP/FP/TN/FN
// counters, recompute precision-gated weight multipliers, bump
// consortium fraud confirmations, and persist it all in one transaction.
func (p *Processor) Feedback(ctx context.Context, tenantID, transactionID string, outcome domain.ConfirmedOutcome, fraudType string) error {
	tx, err := p.repo.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return err
	}

	if tx.ConfirmedOutcome != domain.OutcomeUnknown {
		if tx.ConfirmedOutcome == outcome {
			return nil
		}
		return domain.ErrOutcomeConflict
	}

	isFraud := outcome == domain.OutcomeFraud

	firedNames := make(map[string]bool, len(tx.Flags))
	for _, f := range tx.Flags {
		firedNames[f.RuleName] = true
	}

	applicable := p.applicableRuleNames(tx.Vertical)

	accuracyUpdates := make([]*domain.RuleAccuracy, 0, len(applicable))
	for _, name := range applicable {
		acc, err := p.repo.GetRuleAccuracy(ctx, name, tx.Vertical)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			acc = &domain.RuleAccuracy{RuleName: name, Vertical: tx.Vertical, WeightMultiplier: 1.0}
		}

		fired := firedNames[name]
		switch {
		case fired && isFraud:
			acc.TruePositives++
		case fired && !isFraud:
			acc.FalsePositives++
		case !fired && isFraud:
			acc.FalseNegatives++
		case !fired && !isFraud:
			acc.TrueNegatives++
		}

		if precision, ok := acc.Precision(); ok {
			acc.WeightMultiplier = clampWeight(acc.WeightMultiplier * (0.5 + precision))
		} else {
			acc.WeightMultiplier = 1.0
		}

		accuracyUpdates = append(accuracyUpdates, acc)
	}

	var fraudDigests []string
	if isFraud {
		for kind, digest := range tx.ContextDigests {
			if !consortium.IndexedKinds[kind] {
				continue
			}
			fraudDigests = append(fraudDigests, digest)
		}
	}

	if err := p.repo.ApplyFeedback(ctx, tenantID, transactionID, outcome, fraudType, accuracyUpdates, fraudDigests); err != nil {
		return err
	}

	if p.policy != nil {
		for _, acc := range accuracyUpdates {
			p.policy.SetRuleWeight(acc.Vertical, acc.RuleName, acc.WeightMultiplier)
		}
	}
	return nil
}

func (p *Processor) applicableRuleNames(vertical domain.Vertical) []string {
	if p.registry == nil {
		return nil
	}
	return p.registry.NamesForVertical(vertical)
}

func clampWeight(w float64) float64 {
	if w < domain.MinWeight {
		return domain.MinWeight
	}
	if w > domain.MaxWeight {
		return domain.MaxWeight
	}
	return w
}

func isNotFound(err error) bool {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Kind == domain.KindNotFound
	}
	return false
}
