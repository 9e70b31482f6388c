// Package worker is the async consumer side of the persistence and
// webhook topics. A persistence job whose save fails is logged and
// dropped: the worker does not retry it and the bus does not redeliver
// it. Webhook delivery never blocks or fails a request.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fraudsvc/fraudsvc/internal/consortium"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/webhook"
)

// PersistTransactionJob is the payload on domain.TopicPersistTransaction.
type PersistTransactionJob struct {
	TenantID string                  `json:"tenant_id"`
	Record   domain.TransactionRecord `json:"record"`
}

// WebhookDispatchJob is the payload on domain.TopicWebhookDispatch.
type WebhookDispatchJob struct {
	TenantID string        `json:"tenant_id"`
	Endpoint string        `json:"endpoint"`
	Secret   string        `json:"secret"`
	Event    webhook.Event `json:"event"`
}

// Worker drains the async side of the pipeline so a slow store or
// tenant endpoint never blocks the synchronous scoring response.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	consortium consortiumObserver
	dispatcher *webhook.Dispatcher

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// consortiumObserver is the narrow slice of consortium.Service the
// worker needs, kept as an interface so tests can stub it.
type consortiumObserver interface {
	Observe(ctx context.Context, digest, tenantID string)
}

func New(bus domain.EventBus, repo domain.Repository, consortium consortiumObserver, dispatcher *webhook.Dispatcher) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{bus: bus, repo: repo, consortium: consortium, dispatcher: dispatcher, ctx: ctx, cancel: cancel}
}

// tenantIDs the worker listens on. In the channel-bus tier this is just
// "_global"; under NATS a deployment may instead run one worker per
// tenant.
const globalTenant = "_global"

// Start subscribes to both async topics.
func (w *Worker) Start() error {
	persistSub, err := w.bus.Subscribe(w.ctx, globalTenant, domain.TopicPersistTransaction, w.handlePersistTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, persistSub)

	webhookSub, err := w.bus.Subscribe(w.ctx, globalTenant, domain.TopicWebhookDispatch, w.handleWebhookDispatch)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, webhookSub)

	slog.Info("worker: subscriptions started", "topics", []string{domain.TopicPersistTransaction, domain.TopicWebhookDispatch})
	return nil
}

func (w *Worker) handlePersistTransaction(ctx context.Context, msg *domain.Message) error {
	var job PersistTransactionJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("worker: malformed persist-transaction payload", "error", err)
		return err
	}

	if err := w.repo.SaveTransaction(ctx, &job.Record); err != nil {
		slog.Error("worker: persist transaction failed", "transaction_id", job.Record.TransactionID, "error", err)
		return err
	}

	for kind, digest := range job.Record.ContextDigests {
		if !consortium.IndexedKinds[kind] {
			continue
		}
		w.consortium.Observe(ctx, digest, job.TenantID)
	}

	return nil
}

func (w *Worker) handleWebhookDispatch(ctx context.Context, msg *domain.Message) error {
	var job WebhookDispatchJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("worker: malformed webhook-dispatch payload", "error", err)
		return err
	}

	if err := w.dispatcher.Deliver(ctx, job.Endpoint, job.Secret, job.Event); err != nil {
		slog.Warn("worker: webhook delivery gave up", "tenant_id", job.TenantID, "transaction_id", job.Event.TransactionID, "error", err)
	}
	return nil
}

// Stop cancels the worker's context and unsubscribes from every topic. It
// does not wait for a handler that is already running.
func (w *Worker) Stop() error {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("worker: unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.wg.Wait()
	slog.Info("worker: stopped")
	return nil
}
