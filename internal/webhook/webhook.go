// Package webhook delivers asynchronous decline/critical notifications:
// an HMAC-signed POST to the tenant's configured endpoint, retried with
// exponential backoff. Delivery failure never affects the original
// response.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Event is the body posted to a tenant's webhook endpoint.
type Event struct {
	Event         string      `json:"event"`
	TransactionID string      `json:"transaction_id"`
	RiskScore     int         `json:"risk_score"`
	RiskLevel     domain.Level `json:"risk_level"`
	Decision      domain.Outcome `json:"decision"`
	Flags         []domain.Flag `json:"flags"`
	Timestamp     int64       `json:"timestamp"`
}

// MaxAttempts bounds the retry count; a tenant endpoint that is
// permanently down must not retry forever.
const MaxAttempts = 5

// Dispatcher posts signed webhook events and never lets a slow or failing
// endpoint affect the caller; it is meant to be invoked from a worker
// consuming domain.TopicWebhookDispatch, off the request path entirely.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// ShouldNotify reports whether a decision warrants a webhook: decline
// outcome or critical level.
func ShouldNotify(d domain.Decision) bool {
	return d.Outcome == domain.OutcomeDecline || d.Level == domain.LevelCritical
}

// Deliver signs evt with secret and posts it to endpoint, retrying with
// exponential backoff up to MaxAttempts. The returned error is purely
// informational for logging; callers must never let it affect the
// original scoring response.
func (d *Dispatcher) Deliver(ctx context.Context, endpoint, secret string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}
	signature := sign(secret, body)

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := d.post(ctx, endpoint, signature, body)
		if err != nil {
			slog.Warn("webhook: delivery attempt failed", "endpoint", endpoint, "attempt", attempt, "error", err)
		}
		return err
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return fmt.Errorf("webhook: delivery failed after %d attempts: %w", attempt, err)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
