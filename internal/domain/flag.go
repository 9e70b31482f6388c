package domain

// Severity is a rule's fixed classification; it never changes at runtime.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Rank orders severities for "highest severity" comparisons.
func (s Severity) Rank() int { return severityRank[s] }

// Flag is one rule's explanation of why it contributed to the score.
// Flags are produced by rules and consumed only by the aggregator and the
// response serializer.
type Flag struct {
	RuleName      string         `json:"type"`
	Severity      Severity       `json:"severity"`
	BaseScore     float64        `json:"score"`
	WeightedScore float64        `json:"-"`
	Confidence    float64        `json:"confidence"`
	Message       string         `json:"message"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
