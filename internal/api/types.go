package api

import "github.com/fraudsvc/fraudsvc/internal/domain"

// checkResponse is the wire shape of POST /api/v1/fraud/check's success
// response.
type checkResponse struct {
	TransactionID    string       `json:"transaction_id"`
	RiskScore        int          `json:"risk_score"`
	RiskLevel        domain.Level `json:"risk_level"`
	Decision         domain.Outcome `json:"decision"`
	Flags            []flagDTO    `json:"flags"`
	Recommendation   string       `json:"recommendation"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
	Degraded         bool         `json:"degraded,omitempty"`
}

type flagDTO struct {
	Type       string         `json:"type"`
	Severity   domain.Severity `json:"severity"`
	Message    string         `json:"message"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func toFlagDTOs(flags []domain.Flag) []flagDTO {
	out := make([]flagDTO, len(flags))
	for i, f := range flags {
		out[i] = flagDTO{
			Type:       f.RuleName,
			Severity:   f.Severity,
			Message:    f.Message,
			Score:      f.WeightedScore,
			Confidence: f.Confidence,
			Metadata:   f.Metadata,
		}
	}
	return out
}

// feedbackRequest is the wire shape of POST /api/v1/feedback.
type feedbackRequest struct {
	TransactionID string                  `json:"transaction_id"`
	ActualOutcome domain.ConfirmedOutcome `json:"actual_outcome"`
	FraudType     string                  `json:"fraud_type,omitempty"`
	Notes         string                  `json:"notes,omitempty"`
}

// batchCheckRequest is the wire shape of the optional batch endpoint.
type batchCheckRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

type batchCheckResponse struct {
	Results []batchCheckResult `json:"results"`
}

type batchCheckResult struct {
	TransactionID string         `json:"transaction_id"`
	Response      *checkResponse `json:"response,omitempty"`
	Error         *errorResponse `json:"error,omitempty"`
}

// verticalConfigDTO is the wire shape of GET /api/v1/verticals/{v}/config.
type verticalConfigDTO struct {
	Vertical    domain.Vertical    `json:"vertical"`
	Threshold   int                `json:"threshold"`
	RuleWeights map[string]float64 `json:"rule_weights,omitempty"`
	RuleEnabled map[string]bool    `json:"rule_enabled,omitempty"`
}
