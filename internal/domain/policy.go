package domain

// VerticalConfig is the per-vertical decision policy: the threshold at
// which the decision flips to decline, plus per-rule weight overrides and
// enable bits. Weight multipliers range [0.0, 3.0]; 0.0 disables a rule
// outright for this vertical.
type VerticalConfig struct {
	Vertical        Vertical
	Threshold       int
	RuleWeights     map[string]float64
	RuleEnabled     map[string]bool
}

// WeightFor returns the effective weight for a rule in this vertical,
// defaulting to 1.0 when no override is registered and to 1.0x the
// learned RuleAccuracy multiplier when one is supplied by the caller.
func (v VerticalConfig) WeightFor(ruleName string) float64 {
	if w, ok := v.RuleWeights[ruleName]; ok {
		return w
	}
	return 1.0
}

// Enabled reports whether a rule fires for this vertical. Absent entries
// default to enabled.
func (v VerticalConfig) Enabled(ruleName string) bool {
	if e, ok := v.RuleEnabled[ruleName]; ok {
		return e
	}
	return true
}

// DefaultVerticalThresholds holds the built-in per-vertical decision
// thresholds, overridable via VERTICAL_THRESHOLDS.
var DefaultVerticalThresholds = map[Vertical]int{
	VerticalLending:     65,
	VerticalFintech:     60,
	VerticalPayments:    70,
	VerticalCrypto:      50,
	VerticalEcommerce:   60,
	VerticalBetting:     55,
	VerticalGaming:      50,
	VerticalMarketplace: 60,
}
