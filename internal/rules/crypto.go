package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

const newWalletHighValueThreshold = 5000.0
const p2pVelocityThreshold = 8

func registerCryptoRules(b *builder) {
	b.add(domain.Rule{
		Name:              "new_wallet_high_value",
		Category:          "crypto",
		Severity:          domain.SeverityHigh,
		BaseScore:         24,
		DefaultConfidence: 0.7,
		Verticals:         verticals(domain.VerticalCrypto),
		Check:             checkNewWalletHighValue,
	})
	b.add(domain.Rule{
		Name:              "known_suspicious_wallet",
		Category:          "crypto",
		Severity:          domain.SeverityCritical,
		BaseScore:         42,
		DefaultConfidence: 0.82,
		Verticals:         verticals(domain.VerticalCrypto),
		Check:             checkKnownSuspiciousWallet,
	})
	b.add(domain.Rule{
		Name:              "p2p_velocity",
		Category:          "crypto",
		Severity:          domain.SeverityMedium,
		BaseScore:         18,
		DefaultConfidence: 0.62,
		Verticals:         verticals(domain.VerticalCrypto),
		Check:             checkP2PVelocity,
	})
}

func checkNewWalletHighValue(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	fn := ctx.Request.Features.Funding
	if fn == nil || !fn.IsNewWallet.Present || !fn.IsNewWallet.Value {
		return noFlag()
	}
	if ctx.Request.Amount < newWalletHighValueThreshold {
		return noFlag()
	}
	return fire("new_wallet_high_value", domain.SeverityHigh, 24, 0.7,
		"first-seen wallet address transacting a high value amount",
		map[string]any{"amount": ctx.Request.Amount})
}

func checkKnownSuspiciousWallet(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	count, ok := ctx.ConsortiumFraudConfirmations["wallet"]
	if !ok || count <= 0 {
		return noFlag()
	}
	return fire("known_suspicious_wallet", domain.SeverityCritical, 42, 0.82,
		"wallet address previously tied to confirmed fraud across the consortium",
		map[string]any{"fraud_confirmations": count})
}

func checkP2PVelocity(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if ctx.Request.TransactionType != "p2p_transfer" {
		return noFlag()
	}
	counts, ok := ctx.Velocity[domain.ScopeUser]
	if !ok {
		return noFlag()
	}
	if counts[domain.Window1h] < p2pVelocityThreshold {
		return noFlag()
	}
	return fire("p2p_velocity", domain.SeverityMedium, 18, 0.62,
		"unusually high peer-to-peer transfer rate in the last hour",
		map[string]any{"count_1h": counts[domain.Window1h]})
}
