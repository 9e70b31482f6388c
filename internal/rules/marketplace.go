package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

const newSellerHighValueThreshold = 2000.0
const newSellerAgeDaysThreshold = 14
const lowSellerRatingThreshold = 3.0

func registerMarketplaceRules(b *builder) {
	b.add(domain.Rule{
		Name:              "new_seller_high_value",
		Category:          "marketplace",
		Severity:          domain.SeverityHigh,
		BaseScore:         23,
		DefaultConfidence: 0.68,
		Verticals:         verticals(domain.VerticalMarketplace),
		Check:             checkNewSellerHighValue,
	})
	b.add(domain.Rule{
		Name:              "low_rated_seller",
		Category:          "marketplace",
		Severity:          domain.SeverityMedium,
		BaseScore:         14,
		DefaultConfidence: 0.55,
		Verticals:         verticals(domain.VerticalMarketplace),
		Check:             checkLowRatedSeller,
	})
	b.add(domain.Rule{
		Name:              "high_risk_category_new_buyer",
		Category:          "marketplace",
		Severity:          domain.SeverityMedium,
		BaseScore:         16,
		DefaultConfidence: 0.6,
		Verticals:         verticals(domain.VerticalMarketplace),
		Check:             checkHighRiskCategoryNewBuyer,
	})
}

func checkNewSellerHighValue(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	ma := ctx.Request.Features.MerchantAbuse
	if ma == nil || !ma.SellerAgeDays.Present {
		return noFlag()
	}
	if ma.SellerAgeDays.Value >= newSellerAgeDaysThreshold {
		return noFlag()
	}
	if ctx.Request.Amount < newSellerHighValueThreshold {
		return noFlag()
	}
	return fire("new_seller_high_value", domain.SeverityHigh, 23, 0.68,
		"newly registered seller listing a high-value transaction",
		map[string]any{"seller_age_days": ma.SellerAgeDays.Value, "amount": ctx.Request.Amount})
}

func checkLowRatedSeller(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	ma := ctx.Request.Features.MerchantAbuse
	if ma == nil || !ma.SellerRating.Present {
		return noFlag()
	}
	if ma.SellerRating.Value >= lowSellerRatingThreshold {
		return noFlag()
	}
	return fire("low_rated_seller", domain.SeverityMedium, 14, 0.55,
		"seller rating is below the trusted-seller threshold",
		map[string]any{"seller_rating": ma.SellerRating.Value})
}

func checkHighRiskCategoryNewBuyer(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	ma := ctx.Request.Features.MerchantAbuse
	if ma == nil || !ma.HighRiskCategory.Present || !ma.HighRiskCategory.Value {
		return noFlag()
	}
	if !ctx.IsNewAccount.Known || !ctx.IsNewAccount.Value {
		return noFlag()
	}
	return fire("high_risk_category_new_buyer", domain.SeverityMedium, 16, 0.6,
		"new buyer transacting in a high-risk listing category", nil)
}
