package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

// Amount thresholds below are representative of the catalogue's "large
// amount" convention; vertical policy weighting is where an operator
// tunes actual sensitivity per tenant, not here.
const largeAmountThreshold = 10000.0

func registerAccountRules(b *builder) {
	b.add(domain.Rule{
		Name:              "new_account_large_amount",
		Category:          "account",
		Severity:          domain.SeverityHigh,
		BaseScore:         25,
		DefaultConfidence: 0.75,
		Verticals:         allVerticals,
		Check:             checkNewAccountLargeAmount,
	})
	b.add(domain.Rule{
		Name:              "dormant_reactivation",
		Category:          "account",
		Severity:          domain.SeverityMedium,
		BaseScore:         20,
		DefaultConfidence: 0.7,
		Verticals:         allVerticals,
		Check:             checkDormantReactivation,
	})
	b.add(domain.Rule{
		Name:              "sequential_account_email",
		Category:          "account",
		Severity:          domain.SeverityLow,
		BaseScore:         10,
		DefaultConfidence: 0.6,
		Verticals:         allVerticals,
		Check:             checkSequentialAccountEmail,
	})
}

func checkNewAccountLargeAmount(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsNewAccount.Known || !ctx.IsNewAccount.Value {
		return noFlag()
	}
	if ctx.Request.Amount < largeAmountThreshold {
		return noFlag()
	}
	return fire("new_account_large_amount", domain.SeverityHigh, 25, 0.75,
		"new account submitting a large-amount transaction",
		map[string]any{"amount": ctx.Request.Amount})
}

func checkDormantReactivation(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsDormantReactivation.Known || !ctx.IsDormantReactivation.Value {
		return noFlag()
	}
	if ctx.Request.Amount < largeAmountThreshold/2 {
		return noFlag()
	}
	return fire("dormant_reactivation", domain.SeverityMedium, 20, 0.7,
		"dormant account reactivated with an above-average amount", nil)
}

func checkSequentialAccountEmail(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	beh := ctx.Request.Features.Behavioral
	if beh == nil || !beh.SequentialEmail.Present || !beh.SequentialEmail.Value {
		return noFlag()
	}
	return fire("sequential_account_email", domain.SeverityLow, 10, 0.6,
		"account email matches a sequential-registration pattern", nil)
}
