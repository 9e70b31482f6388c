package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

func TestShouldNotify(t *testing.T) {
	cases := []struct {
		level   domain.Level
		outcome domain.Outcome
		want    bool
	}{
		{domain.LevelLow, domain.OutcomeApprove, false},
		{domain.LevelMedium, domain.OutcomeReview, false},
		{domain.LevelHigh, domain.OutcomeDecline, true},
		{domain.LevelCritical, domain.OutcomeDecline, true},
	}
	for _, tc := range cases {
		got := ShouldNotify(domain.Decision{Level: tc.level, Outcome: tc.outcome})
		if got != tc.want {
			t.Errorf("level=%s outcome=%s: got %v, want %v", tc.level, tc.outcome, got, tc.want)
		}
	}
}

func testEvent() Event {
	return Event{
		Event:         "fraud.decision",
		TransactionID: "tx-1",
		RiskScore:     85,
		RiskLevel:     domain.LevelCritical,
		Decision:      domain.OutcomeDecline,
		Timestamp:     1717000000,
	}
}

func TestDeliverSignsBody(t *testing.T) {
	const secret = "tenant-signing-secret"

	var gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second)
	if err := d.Deliver(context.Background(), srv.URL, secret, testEvent()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Errorf("signature mismatch: got %s, want %s", gotSignature, want)
	}

	var evt Event
	if err := json.Unmarshal(gotBody, &evt); err != nil {
		t.Fatalf("body: %v", err)
	}
	if evt.TransactionID != "tx-1" || evt.RiskScore != 85 {
		t.Errorf("event body: %+v", evt)
	}
}

func TestDeliverRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second)
	if err := d.Deliver(context.Background(), srv.URL, "s", testEvent()); err != nil {
		t.Fatalf("Deliver should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestDeliverDoesNotRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second)
	if err := d.Deliver(context.Background(), srv.URL, "s", testEvent()); err == nil {
		t.Fatal("expected delivery failure")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx is permanent, calls: got %d, want 1", calls.Load())
	}
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second)
	if err := d.Deliver(context.Background(), srv.URL, "s", testEvent()); err == nil {
		t.Fatal("expected delivery failure")
	}
	if calls.Load() != MaxAttempts {
		t.Errorf("calls: got %d, want %d", calls.Load(), MaxAttempts)
	}
}
