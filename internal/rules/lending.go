package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

// loanStackingDigestKinds are the identifier kinds loan_stacking checks
// against the consortium index for cross-tenant exposure.
var loanStackingDigestKinds = []string{"phone", "email", "device", "national_id", "wallet"}

const loanStackingTenantThreshold = 3

func registerLendingRules(b *builder) {
	b.add(domain.Rule{
		Name:              "loan_stacking",
		Category:          "lending",
		Severity:          domain.SeverityCritical,
		BaseScore:         35,
		DefaultConfidence: 0.8,
		Verticals:         verticals(domain.VerticalLending),
		Check:             checkLoanStacking,
	})
	b.add(domain.Rule{
		Name:              "lending_max_first_transaction",
		Category:          "lending",
		Severity:          domain.SeverityMedium,
		BaseScore:         18,
		DefaultConfidence: 0.65,
		Verticals:         verticals(domain.VerticalLending),
		Check:             checkLendingMaxFirstTransaction,
	})
}

// checkLoanStacking fires when any one of this applicant's identifiers
// has been observed by three or more distinct tenants — an applicant
// taking out loans across the consortium faster than any single lender
// can see.
func checkLoanStacking(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	var worstKind string
	var worstTenants int
	for _, kind := range loanStackingDigestKinds {
		tenants, ok := ctx.ConsortiumTenantsTouched[kind]
		if !ok || tenants < loanStackingTenantThreshold {
			continue
		}
		if tenants > worstTenants {
			worstTenants = tenants
			worstKind = kind
		}
	}
	if worstKind == "" {
		return noFlag()
	}
	return fire("loan_stacking", domain.SeverityCritical, 35, 0.8,
		"applicant identifier observed across multiple consortium tenants, consistent with loan stacking",
		map[string]any{"identifier_kind": worstKind, "tenants_touched": worstTenants})
}

func checkLendingMaxFirstTransaction(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	counts, ok := ctx.Velocity[domain.ScopeUser]
	if !ok {
		return noFlag()
	}
	if counts[domain.Window7d] != 0 {
		return noFlag()
	}
	if ctx.Request.Amount < largeAmountThreshold {
		return noFlag()
	}
	return fire("lending_max_first_transaction", domain.SeverityMedium, 18, 0.65,
		"first loan disbursement for this applicant is at the top of the permitted range",
		map[string]any{"amount": ctx.Request.Amount})
}
