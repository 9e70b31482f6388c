package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

// windowThreshold is one configured (window, k) pair: more than k events
// inside window w fires the matching velocity rule.
type windowThreshold struct {
	name      string
	window    domain.Window
	threshold int64
	severity  domain.Severity
	base      float64
	confidence float64
}

var userVelocityPairs = []windowThreshold{
	{"user_velocity_1m", domain.Window1m, 5, domain.SeverityMedium, 16, 0.6},
	{"user_velocity_10m", domain.Window10m, 10, domain.SeverityMedium, 18, 0.62},
	{"user_velocity_1h", domain.Window1h, 20, domain.SeverityHigh, 24, 0.68},
	{"user_velocity_24h", domain.Window24h, 50, domain.SeverityHigh, 26, 0.7},
}

const firstTxLargeAmount = 50000.0

func registerVelocityRules(b *builder) {
	for _, pair := range userVelocityPairs {
		pair := pair
		b.add(domain.Rule{
			Name:              pair.name,
			Category:          "velocity",
			Severity:          pair.severity,
			BaseScore:         pair.base,
			DefaultConfidence: pair.confidence,
			Verticals:         allVerticals,
			Check:             makeUserVelocityCheck(pair),
		})
	}

	b.add(domain.Rule{
		Name:              "first_transaction_large_amount",
		Category:          "velocity",
		Severity:          domain.SeverityCritical,
		BaseScore:         30,
		DefaultConfidence: 0.7,
		Verticals:         allVerticals,
		Check:             checkFirstTransactionLargeAmount,
	})
}

func makeUserVelocityCheck(pair windowThreshold) domain.RuleCheck {
	return func(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
		counts, ok := ctx.Velocity[domain.ScopeUser]
		if !ok {
			return noFlag()
		}
		count := counts[pair.window]
		if count <= pair.threshold {
			return noFlag()
		}
		return fire(pair.name, pair.severity, pair.base, pair.confidence,
			"user exceeded velocity threshold for window "+string(pair.window),
			map[string]any{"window": string(pair.window), "count": count, "threshold": pair.threshold})
	}
}

func checkFirstTransactionLargeAmount(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	counts, ok := ctx.Velocity[domain.ScopeUser]
	if !ok {
		return noFlag()
	}
	if counts[domain.Window7d] != 0 {
		return noFlag()
	}
	if ctx.Request.Amount < firstTxLargeAmount {
		return noFlag()
	}
	return fire("first_transaction_large_amount", domain.SeverityCritical, 30, 0.7,
		"first observed transaction for this user is unusually large",
		map[string]any{"amount": ctx.Request.Amount})
}
