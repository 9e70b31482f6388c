// Package decision implements the pure aggregation step that turns a
// rule evaluation's flags (plus an optional ML probability) into a final
// score, risk level, and decision. A weighted sum of flag scores feeds
// the full score/level/decision/recommendation
// contract.
package decision

import (
	"fmt"
	"sort"

	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/ml"
)

// MLBlendWeight and RulesBlendWeight are the fixed blend coefficients
// when an ML probability is available.
const (
	MLBlendWeight    = 0.7
	RulesBlendWeight = 0.3
)

// Aggregate implements the seven-step algorithm exactly: weight each
// flag by (rule, vertical), clamp the rules score, optionally blend in
// an ML probability, band the result into a level, map the level to a
// decision, sort and cap the returned flags, and compose a one-sentence
// recommendation. It never performs I/O and is deterministic given its
// inputs; any randomness lives in the ML adapter that produced pred.
func Aggregate(flags []domain.Flag, vertical domain.Vertical, pred *ml.Prediction, cfg domain.VerticalConfig, topK int, degraded bool) domain.Decision {
	weighted := make([]domain.Flag, 0, len(flags))
	for _, f := range flags {
		if !cfg.Enabled(f.RuleName) {
			continue
		}
		w := cfg.WeightFor(f.RuleName)
		if w == 0 {
			// A zero multiplier disables the rule for this vertical.
			continue
		}
		f.WeightedScore = f.BaseScore * w
		weighted = append(weighted, f)
	}

	var sum float64
	for _, f := range weighted {
		sum += f.WeightedScore
	}
	rulesScore := clamp(sum, 0, 100)

	final := rulesScore
	mlUsed := false
	if pred != nil {
		final = MLBlendWeight*(pred.Probability*100) + RulesBlendWeight*rulesScore
		mlUsed = true
	}
	final = clamp(final, 0, 100)

	level := bandLevel(final, cfg.Threshold)
	outcome := decideOutcome(level)

	sort.SliceStable(weighted, func(i, j int) bool {
		if weighted[i].WeightedScore != weighted[j].WeightedScore {
			return weighted[i].WeightedScore > weighted[j].WeightedScore
		}
		return weighted[i].RuleName < weighted[j].RuleName
	})

	if topK > 0 && len(weighted) > topK {
		weighted = weighted[:topK]
	}

	return domain.Decision{
		Score:          int(final + 0.5),
		Level:          level,
		Outcome:        outcome,
		Flags:          weighted,
		Recommendation: recommendation(level, weighted),
		MLUsed:         mlUsed,
		Degraded:       degraded,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bandLevel applies the low/medium/high/critical bands at 0.6T, T, T+15.
func bandLevel(final float64, threshold int) domain.Level {
	t := float64(threshold)
	switch {
	case final < 0.6*t:
		return domain.LevelLow
	case final < t:
		return domain.LevelMedium
	case final < t+15:
		return domain.LevelHigh
	default:
		return domain.LevelCritical
	}
}

func decideOutcome(level domain.Level) domain.Outcome {
	switch level {
	case domain.LevelLow:
		return domain.OutcomeApprove
	case domain.LevelMedium:
		return domain.OutcomeReview
	default:
		return domain.OutcomeDecline
	}
}

func recommendation(level domain.Level, flags []domain.Flag) string {
	switch level {
	case domain.LevelLow:
		return "No action required; transaction appears low risk."
	case domain.LevelMedium:
		if len(flags) == 0 {
			return "Manual review recommended."
		}
		return fmt.Sprintf("Manual review recommended; highest signal is %s.", flags[0].RuleName)
	case domain.LevelHigh:
		if len(flags) == 0 {
			return "Decline recommended; elevated risk signals present."
		}
		return fmt.Sprintf("Decline recommended; driven primarily by %s.", flags[0].RuleName)
	default:
		if len(flags) == 0 {
			return "Decline recommended; critical risk threshold exceeded."
		}
		return fmt.Sprintf("Decline recommended; critical signal %s indicates probable fraud.", flags[0].RuleName)
	}
}
