package domain

import (
	"context"
)

// EventBus carries the asynchronous side of the scoring pipeline:
// persistence jobs and webhook dispatches that must never block a
// response. Backed by Go channels (community tier) or NATS (pro tier).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic. Fire-and-forget; delivery
	// retries are the consumer's job.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the async side of the evaluation pipeline.
// Scoring itself is synchronous; these carry work that must never block
// the response: durable persistence and webhook egress.
const (
	TopicPersistTransaction = "fraudsvc.persist.transaction"
	TopicPersistFeedback    = "fraudsvc.persist.feedback"
	TopicWebhookDispatch    = "fraudsvc.webhook.dispatch"
	TopicDecisionMade       = "fraudsvc.decision.made"
)
