package domain

import "time"

// Known is a tri-state value: a context field is either known-true,
// known-false, or unknown. Several rules require this distinction — an
// "unknown" impossible-travel check must never be treated as "false" by
// accident, so callers are forced to check Known before Value.
type Known struct {
	Value   bool
	Known   bool
}

func KnownTrue() Known  { return Known{Value: true, Known: true} }
func KnownFalse() Known { return Known{Value: false, Known: true} }
func Unknown() Known    { return Known{} }

// VelocityCounts holds the five standard windows for one scope/subject.
type VelocityCounts map[Window]int64

// EvaluationContext is the normalized, typed input every rule reads. It is
// built once per request by the context assembler and never mutated by a
// rule.
type EvaluationContext struct {
	TenantID   string
	Vertical   Vertical
	Request    TransactionRequest

	// Digests of every identifier present on the request, so rules never
	// touch raw values. Keys: "user","email","phone","device","national_id",
	// "wallet","ip","card_bin_last4".
	Digests map[string]string

	Velocity map[Scope]VelocityCounts

	ConsortiumTenantsTouched     map[string]int
	ConsortiumFraudConfirmations map[string]int64

	IsNewAccount        Known
	IsVeryNewAccount    Known
	IsDormantReactivation Known
	IsNight             Known
	IsWeekend           Known
	IsBusinessHours     Known
	IsRoundAmount       Known
	IsImpossibleTravel  Known
	IsNewDevice         Known
	IsDeviceShared      Known
	DeviceSharedCount   int

	LocalTime time.Time

	// Degraded is true when a dependency (cache/store) was unreachable
	// during assembly; the response carries this verbatim.
	Degraded        bool
	DegradedReasons []string
}
