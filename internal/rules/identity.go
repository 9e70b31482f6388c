package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

var cashOutTransactionTypes = map[string]bool{
	"cash_out":          true,
	"loan_disbursement": true,
	"withdrawal":        true,
}

func registerIdentityRules(b *builder) {
	b.add(domain.Rule{
		Name:              "disposable_email",
		Category:          "identity",
		Severity:          domain.SeverityLow,
		BaseScore:         8,
		DefaultConfidence: 0.55,
		Verticals:         allVerticals,
		Check:             checkDisposableEmail,
	})
	b.add(domain.Rule{
		Name:              "sim_swap_pattern",
		Category:          "identity",
		Severity:          domain.SeverityCritical,
		BaseScore:         45,
		DefaultConfidence: 0.88,
		Verticals:         allVerticals,
		Check:             checkSimSwapPattern,
	})
	b.add(domain.Rule{
		Name:              "contact_change_withdrawal",
		Category:          "identity",
		Severity:          domain.SeverityHigh,
		BaseScore:         28,
		DefaultConfidence: 0.72,
		Verticals:         allVerticals,
		Check:             checkContactChangeWithdrawal,
	})
}

func checkDisposableEmail(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	id := ctx.Request.Features.Identity
	if id == nil || !id.DisposableEmail.Present || !id.DisposableEmail.Value {
		return noFlag()
	}
	return fire("disposable_email", domain.SeverityLow, 8, 0.55,
		"account email domain is a known disposable-email provider", nil)
}

// checkSimSwapPattern fires on a recent phone change combined with a new
// device transacting against a cash-out-shaped transaction type: the
// classic account-takeover-via-SIM-swap sequence.
func checkSimSwapPattern(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	id := ctx.Request.Features.Identity
	if id == nil || !id.PhoneChangedRecently.Present || !id.PhoneChangedRecently.Value {
		return noFlag()
	}
	if !ctx.IsNewDevice.Known || !ctx.IsNewDevice.Value {
		return noFlag()
	}
	if !cashOutTransactionTypes[ctx.Request.TransactionType] {
		return noFlag()
	}
	return fire("sim_swap_pattern", domain.SeverityCritical, 45, 0.88,
		"recent phone change plus new device on a cash-out transaction",
		map[string]any{"transaction_type": ctx.Request.TransactionType})
}

func checkContactChangeWithdrawal(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	ato := ctx.Request.Features.ATO
	if ato == nil || !ato.ContactChanged.Present || !ato.ContactChanged.Value {
		return noFlag()
	}
	if !ato.WithdrawalRequested.Present || !ato.WithdrawalRequested.Value {
		return noFlag()
	}
	return fire("contact_change_withdrawal", domain.SeverityHigh, 28, 0.72,
		"contact details changed immediately before a withdrawal request", nil)
}
