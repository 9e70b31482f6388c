package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

const excessiveWithdrawalsThreshold = 5

func registerBettingGamingRules(b *builder) {
	b.add(domain.Rule{
		Name:              "bonus_abuse_device_shared",
		Category:          "betting_gaming",
		Severity:          domain.SeverityHigh,
		BaseScore:         26,
		DefaultConfidence: 0.72,
		Verticals:         verticals(domain.VerticalBetting, domain.VerticalGaming),
		Check:             checkBonusAbuseDeviceShared,
	})
	b.add(domain.Rule{
		Name:              "withdrawal_without_wagering",
		Category:          "betting_gaming",
		Severity:          domain.SeverityHigh,
		BaseScore:         28,
		DefaultConfidence: 0.75,
		Verticals:         verticals(domain.VerticalBetting, domain.VerticalGaming),
		Check:             checkWithdrawalWithoutWagering,
	})
	b.add(domain.Rule{
		Name:              "excessive_withdrawals",
		Category:          "betting_gaming",
		Severity:          domain.SeverityMedium,
		BaseScore:         16,
		DefaultConfidence: 0.6,
		Verticals:         verticals(domain.VerticalBetting, domain.VerticalGaming),
		Check:             checkExcessiveWithdrawals,
	})
}

// checkBonusAbuseDeviceShared fires when a device tied to multiple
// distinct users is used on a new-account transaction, the shape of
// bonus-abuse multi-accounting rings.
func checkBonusAbuseDeviceShared(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsDeviceShared.Known || !ctx.IsDeviceShared.Value {
		return noFlag()
	}
	if !ctx.IsNewAccount.Known || !ctx.IsNewAccount.Value {
		return noFlag()
	}
	return fire("bonus_abuse_device_shared", domain.SeverityHigh, 26, 0.72,
		"new account transacting on a device already tied to other accounts",
		map[string]any{"distinct_users": ctx.DeviceSharedCount})
}

func checkWithdrawalWithoutWagering(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if ctx.Request.TransactionType != "withdrawal" {
		return noFlag()
	}
	fn := ctx.Request.Features.Funding
	if fn == nil || !fn.WageringAmount.Present {
		return noFlag()
	}
	if fn.WageringAmount.Value > 0 {
		return noFlag()
	}
	return fire("withdrawal_without_wagering", domain.SeverityHigh, 28, 0.75,
		"withdrawal requested with no recorded wagering activity on the deposited funds", nil)
}

func checkExcessiveWithdrawals(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if ctx.Request.TransactionType != "withdrawal" {
		return noFlag()
	}
	counts, ok := ctx.Velocity[domain.ScopeUser]
	if !ok {
		return noFlag()
	}
	if counts[domain.Window24h] < excessiveWithdrawalsThreshold {
		return noFlag()
	}
	return fire("excessive_withdrawals", domain.SeverityMedium, 16, 0.6,
		"unusually high count of withdrawal requests in the last 24 hours",
		map[string]any{"count_24h": counts[domain.Window24h]})
}
