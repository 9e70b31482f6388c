package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/bus"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/webhook"
)

type fakeRepo struct {
	domain.Repository

	mu    sync.Mutex
	saved []*domain.TransactionRecord
	done  chan struct{}
}

func (f *fakeRepo) SaveTransaction(ctx context.Context, tx *domain.TransactionRecord) error {
	f.mu.Lock()
	f.saved = append(f.saved, tx)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	observed []string
}

func (f *fakeObserver) Observe(ctx context.Context, digest, tenantID string) {
	f.mu.Lock()
	f.observed = append(f.observed, digest)
	f.mu.Unlock()
}

func TestWorkerPersistsTransactions(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	repo := &fakeRepo{done: make(chan struct{}, 1)}
	obs := &fakeObserver{}
	w := New(b, repo, obs, webhook.NewDispatcher(time.Second))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	job := PersistTransactionJob{
		TenantID: "tenant-a",
		Record: domain.TransactionRecord{
			TenantID:       "tenant-a",
			TransactionID:  "tx-1",
			Score:          85,
			ContextDigests: map[string]string{"phone": "digest-phone"},
		},
	}
	payload, _ := json.Marshal(job)
	if err := b.Publish(context.Background(), "_global", domain.TopicPersistTransaction, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-repo.done:
	case <-time.After(2 * time.Second):
		t.Fatal("transaction was never persisted")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.saved) != 1 || repo.saved[0].TransactionID != "tx-1" {
		t.Fatalf("saved: %+v", repo.saved)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.observed) != 1 || obs.observed[0] != "digest-phone" {
		t.Errorf("consortium observations: %v", obs.observed)
	}
}

func TestWorkerDispatchesWebhook(t *testing.T) {
	received := make(chan webhook.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var evt webhook.Event
		_ = json.NewDecoder(r.Body).Decode(&evt)
		received <- evt
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := bus.NewChannelBus(16)
	defer b.Close()

	w := New(b, &fakeRepo{done: make(chan struct{}, 1)}, &fakeObserver{}, webhook.NewDispatcher(time.Second))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	job := WebhookDispatchJob{
		TenantID: "tenant-a",
		Endpoint: srv.URL,
		Secret:   "s",
		Event: webhook.Event{
			Event:         "fraud.decision",
			TransactionID: "tx-9",
			RiskScore:     91,
			RiskLevel:     domain.LevelCritical,
			Decision:      domain.OutcomeDecline,
		},
	}
	payload, _ := json.Marshal(job)
	if err := b.Publish(context.Background(), "_global", domain.TopicWebhookDispatch, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case evt := <-received:
		if evt.TransactionID != "tx-9" || evt.RiskScore != 91 {
			t.Errorf("event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}
