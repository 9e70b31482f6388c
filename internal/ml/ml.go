// Package ml provides the pluggable scoring adapter the decision
// aggregator optionally blends into its final score. The built-in
// catalogue in internal/rules never depends on this package; a
// deployment with ML disabled runs rules-only, unchanged.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// ErrUnavailable is returned whenever an adapter cannot produce a
// prediction in time: on timeout, network error, or because it is
// disabled. The aggregator treats this identically in every case —
// fall back to rules-only scoring.
var ErrUnavailable = errors.New("ml: adapter unavailable")

// Prediction is the adapter's output: a fraud probability plus an
// optional feature-importance breakdown for explainability.
type Prediction struct {
	Probability      float64
	FeatureImportance map[string]float64
}

// Adapter is the pluggable scoring contract. Implementations must be
// goroutine-safe; they are called from the same fan-out that evaluates
// rules.
type Adapter interface {
	Predict(ctx context.Context, ec *domain.EvaluationContext) (Prediction, error)
}

// NullAdapter always reports unavailable. It is the default adapter when
// ML scoring is disabled, so the aggregator's fallback path is always
// exercised the same way regardless of configuration.
type NullAdapter struct{}

func (NullAdapter) Predict(context.Context, *domain.EvaluationContext) (Prediction, error) {
	return Prediction{}, ErrUnavailable
}

// HTTPAdapter posts a feature vector derived from the evaluation context
// to a configurable endpoint and expects a JSON body
// {"probability": float, "feature_importance": {...}}. It is stateless
// and safe for concurrent use.
type HTTPAdapter struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

// NewHTTPAdapter builds an adapter bound to endpoint with the given soft
// deadline. A zero timeout defaults to 50ms.
func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &HTTPAdapter{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		Timeout:  timeout,
	}
}

type featureVector struct {
	TenantID          string             `json:"tenant_id"`
	Vertical          domain.Vertical    `json:"vertical"`
	Amount            float64            `json:"amount"`
	Currency          string             `json:"currency"`
	TransactionType   string             `json:"transaction_type"`
	IsNewAccount      *bool              `json:"is_new_account,omitempty"`
	IsNewDevice       *bool              `json:"is_new_device,omitempty"`
	IsDeviceShared    *bool              `json:"is_device_shared,omitempty"`
	IsImpossibleTravel *bool             `json:"is_impossible_travel,omitempty"`
	IsRoundAmount     *bool              `json:"is_round_amount,omitempty"`
	Velocity          map[string]int64   `json:"velocity,omitempty"`
}

type httpPredictionResponse struct {
	Probability       float64            `json:"probability"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

// Predict enforces the adapter's own timeout in addition to whatever
// deadline ctx already carries, so a misconfigured caller can never make
// an ML call block longer than the adapter's soft deadline.
func (a *HTTPAdapter) Predict(ctx context.Context, ec *domain.EvaluationContext) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	body, err := json.Marshal(toFeatureVector(ec))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: encode feature vector: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out httpPredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Prediction{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return Prediction{}, fmt.Errorf("%w: probability %f out of range", ErrUnavailable, out.Probability)
	}

	return Prediction{Probability: out.Probability, FeatureImportance: out.FeatureImportance}, nil
}

func toFeatureVector(ec *domain.EvaluationContext) featureVector {
	fv := featureVector{
		TenantID:        ec.TenantID,
		Vertical:        ec.Vertical,
		Amount:          ec.Request.Amount,
		Currency:        ec.Request.Currency,
		TransactionType: ec.Request.TransactionType,
	}
	fv.IsNewAccount = knownBoolPtr(ec.IsNewAccount)
	fv.IsNewDevice = knownBoolPtr(ec.IsNewDevice)
	fv.IsDeviceShared = knownBoolPtr(ec.IsDeviceShared)
	fv.IsImpossibleTravel = knownBoolPtr(ec.IsImpossibleTravel)
	fv.IsRoundAmount = knownBoolPtr(ec.IsRoundAmount)

	if counts, ok := ec.Velocity[domain.ScopeUser]; ok {
		fv.Velocity = make(map[string]int64, len(counts))
		for w, c := range counts {
			fv.Velocity[string(w)] = c
		}
	}
	return fv
}

func knownBoolPtr(k domain.Known) *bool {
	if !k.Known {
		return nil
	}
	v := k.Value
	return &v
}
