package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

const deviceVelocityHourlyThreshold = 5

func registerDeviceRules(b *builder) {
	b.add(domain.Rule{
		Name:              "new_device_large_amount",
		Category:          "device",
		Severity:          domain.SeverityHigh,
		BaseScore:         22,
		DefaultConfidence: 0.7,
		Verticals:         allVerticals,
		Check:             checkNewDeviceLargeAmount,
	})
	b.add(domain.Rule{
		Name:              "device_shared_multi_user",
		Category:          "device",
		Severity:          domain.SeverityMedium,
		BaseScore:         18,
		DefaultConfidence: 0.65,
		Verticals:         allVerticals,
		Check:             checkDeviceSharedMultiUser,
	})
	b.add(domain.Rule{
		Name:              "device_fingerprint_history_fraud",
		Category:          "device",
		Severity:          domain.SeverityCritical,
		BaseScore:         35,
		DefaultConfidence: 0.8,
		Verticals:         allVerticals,
		Check:             checkDeviceFingerprintHistoryFraud,
	})
	b.add(domain.Rule{
		Name:              "device_velocity",
		Category:          "device",
		Severity:          domain.SeverityMedium,
		BaseScore:         15,
		DefaultConfidence: 0.6,
		Verticals:         allVerticals,
		Check:             checkDeviceVelocity,
	})
}

func checkNewDeviceLargeAmount(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsNewDevice.Known || !ctx.IsNewDevice.Value {
		return noFlag()
	}
	if ctx.Request.Amount < largeAmountThreshold {
		return noFlag()
	}
	return fire("new_device_large_amount", domain.SeverityHigh, 22, 0.7,
		"first-seen device submitting a large-amount transaction", nil)
}

func checkDeviceSharedMultiUser(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsDeviceShared.Known || !ctx.IsDeviceShared.Value {
		return noFlag()
	}
	return fire("device_shared_multi_user", domain.SeverityMedium, 18, 0.65,
		"device shared across multiple distinct users",
		map[string]any{"distinct_users": ctx.DeviceSharedCount})
}

func checkDeviceFingerprintHistoryFraud(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	count, ok := ctx.ConsortiumFraudConfirmations["device"]
	if !ok || count <= 0 {
		return noFlag()
	}
	return fire("device_fingerprint_history_fraud", domain.SeverityCritical, 35, 0.8,
		"device fingerprint previously tied to confirmed fraud",
		map[string]any{"fraud_confirmations": count})
}

func checkDeviceVelocity(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	counts, ok := ctx.Velocity[domain.ScopeDevice]
	if !ok {
		return noFlag()
	}
	if counts[domain.Window1h] <= deviceVelocityHourlyThreshold {
		return noFlag()
	}
	return fire("device_velocity", domain.SeverityMedium, 15, 0.6,
		"device exceeded hourly transaction velocity",
		map[string]any{"count_1h": counts[domain.Window1h]})
}
