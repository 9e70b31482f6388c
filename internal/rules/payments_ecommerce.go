package rules

import (
	"strings"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// knownBadBINPrefixes is a small, hardcoded table of card BIN prefixes
// the catalogue treats as elevated risk. Rules are pure and may not call
// out to a live BIN-reputation service, so this stands in for one; an
// operator wanting a live feed would wire it as an ML adapter input
// instead of a rule.
var knownBadBINPrefixes = []string{"400000", "411111", "444433", "520000"}

const multipleFailedPaymentsThreshold = 3
const highValueShippingMismatch = 500.0

func registerPaymentsEcommerceRules(b *builder) {
	b.add(domain.Rule{
		Name:              "card_bin_reputation",
		Category:          "payments_ecommerce",
		Severity:          domain.SeverityMedium,
		BaseScore:         20,
		DefaultConfidence: 0.6,
		Verticals:         verticals(domain.VerticalPayments, domain.VerticalEcommerce, domain.VerticalFintech),
		Check:             checkCardBINReputation,
	})
	b.add(domain.Rule{
		Name:              "multiple_failed_payments",
		Category:          "payments_ecommerce",
		Severity:          domain.SeverityMedium,
		BaseScore:         17,
		DefaultConfidence: 0.6,
		Verticals:         verticals(domain.VerticalPayments, domain.VerticalEcommerce, domain.VerticalFintech),
		Check:             checkMultipleFailedPayments,
	})
	b.add(domain.Rule{
		Name:              "shipping_billing_mismatch_high_value",
		Category:          "payments_ecommerce",
		Severity:          domain.SeverityHigh,
		BaseScore:         24,
		DefaultConfidence: 0.68,
		Verticals:         verticals(domain.VerticalEcommerce, domain.VerticalMarketplace),
		Check:             checkShippingBillingMismatchHighValue,
	})
	b.add(domain.Rule{
		Name:              "digital_goods_new_account",
		Category:          "payments_ecommerce",
		Severity:          domain.SeverityMedium,
		BaseScore:         15,
		DefaultConfidence: 0.58,
		Verticals:         verticals(domain.VerticalEcommerce, domain.VerticalMarketplace),
		Check:             checkDigitalGoodsNewAccount,
	})
}

func checkCardBINReputation(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	fn := ctx.Request.Features.Funding
	if fn == nil || !fn.CardBIN.Present {
		return noFlag()
	}
	bin := fn.CardBIN.Value
	for _, prefix := range knownBadBINPrefixes {
		if strings.HasPrefix(bin, prefix) {
			return fire("card_bin_reputation", domain.SeverityMedium, 20, 0.6,
				"card BIN matches a known elevated-risk prefix", nil)
		}
	}
	return noFlag()
}

func checkMultipleFailedPayments(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	tx := ctx.Request.Features.Transaction
	if tx == nil || !tx.FailedPayments.Present {
		return noFlag()
	}
	if tx.FailedPayments.Value < multipleFailedPaymentsThreshold {
		return noFlag()
	}
	return fire("multiple_failed_payments", domain.SeverityMedium, 17, 0.6,
		"multiple failed payment attempts preceded this transaction",
		map[string]any{"failed_payments": tx.FailedPayments.Value})
}

func checkShippingBillingMismatchHighValue(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	tx := ctx.Request.Features.Transaction
	if tx == nil || !tx.ShippingEqualsBilling.Present || tx.ShippingEqualsBilling.Value {
		return noFlag()
	}
	if ctx.Request.Amount < highValueShippingMismatch {
		return noFlag()
	}
	return fire("shipping_billing_mismatch_high_value", domain.SeverityHigh, 24, 0.68,
		"shipping address differs from billing address on a high-value order",
		map[string]any{"amount": ctx.Request.Amount})
}

func checkDigitalGoodsNewAccount(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	tx := ctx.Request.Features.Transaction
	if tx == nil || !tx.IsDigitalGoods.Present || !tx.IsDigitalGoods.Value {
		return noFlag()
	}
	if !ctx.IsNewAccount.Known || !ctx.IsNewAccount.Value {
		return noFlag()
	}
	return fire("digital_goods_new_account", domain.SeverityMedium, 15, 0.58,
		"new account purchasing digital goods, which carry no chargeback recovery", nil)
}
