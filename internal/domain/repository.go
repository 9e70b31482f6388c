package domain

import (
	"context"
	"time"
)

// Repository is the durable store: clients, transactions, flags,
// rule-accuracy aggregates, and the consortium index. Methods that take a
// tenantID are tenant-scoped and implementations must filter on it; client
// lookup by API-key digest, rule accuracy, custom rules, and the consortium
// index are not tenant-scoped.
type Repository interface {
	GetClientByAPIKeyDigest(ctx context.Context, digest string) (*Client, error)
	GetClient(ctx context.Context, tenantID string) (*Client, error)
	CreateClient(ctx context.Context, c *Client) error

	SaveTransaction(ctx context.Context, tx *TransactionRecord) error
	GetTransaction(ctx context.Context, tenantID, transactionID string) (*TransactionRecord, error)
	SetOutcome(ctx context.Context, tenantID, transactionID string, outcome ConfirmedOutcome, fraudType string) error

	GetRuleAccuracy(ctx context.Context, ruleName string, vertical Vertical) (*RuleAccuracy, error)
	UpsertRuleAccuracy(ctx context.Context, acc *RuleAccuracy) error
	ListRuleAccuracy(ctx context.Context, vertical Vertical) ([]*RuleAccuracy, error)

	// SaveCustomRule upserts an operator-authored CEL rule definition;
	// ListCustomRules returns them all for the engine to compile and
	// hot-load.
	SaveCustomRule(ctx context.Context, def *CustomRuleDefinition) error
	ListCustomRules(ctx context.Context) ([]CustomRuleDefinition, error)

	GetConsortiumEntry(ctx context.Context, digest string) (*ConsortiumEntry, error)
	UpsertConsortiumObservation(ctx context.Context, digest, tenantID string, observedAt int64) error
	IncrementConsortiumFraud(ctx context.Context, digest string) error

	// PruneConsortiumBefore deletes entries not seen since cutoff,
	// returning how many were removed. Called by the scheduled age-out
	// job, never on the request path.
	PruneConsortiumBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ApplyFeedback performs the entire feedback update — setting
	// the outcome, upserting every touched rule's accuracy row, and
	// incrementing every touched consortium digest's fraud count — as one
	// transaction so a partial failure can never corrupt weights.
	ApplyFeedback(ctx context.Context, tenantID, transactionID string, outcome ConfirmedOutcome, fraudType string, accuracyUpdates []*RuleAccuracy, fraudConfirmDigests []string) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects and configures a Repository implementation.
type RepositoryConfig struct {
	// Driver: "sqlite" or "postgres"
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}
