// Package repository is the durable store: database/sql over SQLite
// (community tier) or Postgres (pro tier), re-schema'd for clients,
// transactions, rule-accuracy aggregates, and the consortium index.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// SQLRepository implements domain.Repository over database/sql.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens a repository connection and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "postgres":
		db, err = openPostgres(cfg)
	case "sqlite", "":
		db, err = openSQLite(cfg)
	default:
		return nil, domain.NewError(domain.KindConfigError, "repository: unknown driver "+cfg.Driver, nil)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	r := &SQLRepository{db: db, driver: cfg.Driver}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range AllSchemas() {
		if _, err := r.db.Exec(r.rebind(stmt)); err != nil {
			return fmt.Errorf("repository: migrate: %w", err)
		}
	}
	return nil
}

// rebind converts `?` placeholders to `$1, $2, ...` for postgres; sqlite
// accepts `?` natively.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }
func (r *SQLRepository) Close() error                   { return r.db.Close() }

// --- clients ---

func (r *SQLRepository) GetClientByAPIKeyDigest(ctx context.Context, digest string) (*Client, error) {
	return r.queryClient(ctx, "WHERE api_key_digest = ?", digest)
}

func (r *SQLRepository) GetClient(ctx context.Context, tenantID string) (*Client, error) {
	return r.queryClient(ctx, "WHERE id = ?", tenantID)
}

// Client is an alias kept local so method receivers read naturally; the
// concrete type returned is always *domain.Client.
type Client = domain.Client

func (r *SQLRepository) queryClient(ctx context.Context, where string, arg string) (*domain.Client, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT id, name, api_key_digest, tier, vertical, threshold_override, webhook_url, webhook_signing_secret, created_at
		 FROM clients `+where), arg)

	var c domain.Client
	var threshold sql.NullInt64
	var webhookURL, webhookSecret sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.APIKeyDigest, &c.Tier, &c.Vertical, &threshold, &webhookURL, &webhookSecret, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewError(domain.KindNotFound, "client not found", nil)
		}
		return nil, fmt.Errorf("repository: get client: %w", err)
	}
	if threshold.Valid {
		v := int(threshold.Int64)
		c.ThresholdOverride = &v
	}
	c.WebhookURL = webhookURL.String
	c.WebhookSigningSecret = webhookSecret.String
	return &c, nil
}

func (r *SQLRepository) CreateClient(ctx context.Context, c *domain.Client) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO clients (id, name, api_key_digest, tier, vertical, threshold_override, webhook_url, webhook_signing_secret, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.APIKeyDigest, c.Tier, c.Vertical, c.ThresholdOverride, c.WebhookURL, c.WebhookSigningSecret, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create client: %w", err)
	}
	return nil
}

// --- transactions ---

func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.TransactionRecord) error {
	digests, err := json.Marshal(tx.ContextDigests)
	if err != nil {
		return fmt.Errorf("repository: marshal digests: %w", err)
	}
	flags, err := json.Marshal(tx.Flags)
	if err != nil {
		return fmt.Errorf("repository: marshal flags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO transactions
		 (tenant_id, transaction_id, user_digest, amount, currency, transaction_type, vertical,
		  context_digests, score, level, decision, flags, latency_ms, ruleset_version, degraded,
		  confirmed_outcome, fraud_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tx.TenantID, tx.TransactionID, tx.UserDigest, tx.Amount, tx.Currency, tx.TransactionType, tx.Vertical,
		string(digests), tx.Score, tx.Level, tx.Decision, string(flags), tx.LatencyMS, tx.RulesetVersion, boolToInt(tx.Degraded),
		string(tx.ConfirmedOutcome), tx.FraudType, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: save transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID, transactionID string) (*domain.TransactionRecord, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT tenant_id, transaction_id, user_digest, amount, currency, transaction_type, vertical,
		        context_digests, score, level, decision, flags, latency_ms, ruleset_version, degraded,
		        confirmed_outcome, fraud_type, created_at
		 FROM transactions WHERE tenant_id = ? AND transaction_id = ?`),
		tenantID, transactionID)

	var tx domain.TransactionRecord
	var digestsJSON, flagsJSON string
	var degraded int
	if err := row.Scan(&tx.TenantID, &tx.TransactionID, &tx.UserDigest, &tx.Amount, &tx.Currency, &tx.TransactionType,
		&tx.Vertical, &digestsJSON, &tx.Score, &tx.Level, &tx.Decision, &flagsJSON, &tx.LatencyMS, &tx.RulesetVersion,
		&degraded, &tx.ConfirmedOutcome, &tx.FraudType, &tx.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewError(domain.KindNotFound, "transaction not found", nil)
		}
		return nil, fmt.Errorf("repository: get transaction: %w", err)
	}
	tx.Degraded = degraded != 0
	_ = json.Unmarshal([]byte(digestsJSON), &tx.ContextDigests)
	_ = json.Unmarshal([]byte(flagsJSON), &tx.Flags)
	return &tx, nil
}

func (r *SQLRepository) SetOutcome(ctx context.Context, tenantID, transactionID string, outcome domain.ConfirmedOutcome, fraudType string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`UPDATE transactions SET confirmed_outcome = ?, fraud_type = ?
		 WHERE tenant_id = ? AND transaction_id = ?`),
		string(outcome), fraudType, tenantID, transactionID)
	if err != nil {
		return fmt.Errorf("repository: set outcome: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewError(domain.KindNotFound, "transaction not found", nil)
	}
	return nil
}

// --- rule accuracy ---

func (r *SQLRepository) GetRuleAccuracy(ctx context.Context, ruleName string, vertical domain.Vertical) (*domain.RuleAccuracy, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT rule_name, vertical, true_positives, false_positives, true_negatives, false_negatives, weight_multiplier, last_updated
		 FROM rule_accuracy WHERE rule_name = ? AND vertical = ?`), ruleName, vertical)

	var a domain.RuleAccuracy
	if err := row.Scan(&a.RuleName, &a.Vertical, &a.TruePositives, &a.FalsePositives, &a.TrueNegatives, &a.FalseNegatives, &a.WeightMultiplier, &a.LastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewError(domain.KindNotFound, "rule accuracy not found", nil)
		}
		return nil, fmt.Errorf("repository: get rule accuracy: %w", err)
	}
	return &a, nil
}

func (r *SQLRepository) UpsertRuleAccuracy(ctx context.Context, acc *domain.RuleAccuracy) error {
	return r.upsertRuleAccuracyTx(ctx, r.db, acc)
}

func (r *SQLRepository) upsertRuleAccuracyTx(ctx context.Context, exec execer, acc *domain.RuleAccuracy) error {
	var query string
	if r.driver == "postgres" {
		query = `INSERT INTO rule_accuracy (rule_name, vertical, true_positives, false_positives, true_negatives, false_negatives, weight_multiplier, last_updated)
		          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		          ON CONFLICT (rule_name, vertical) DO UPDATE SET
		            true_positives = EXCLUDED.true_positives,
		            false_positives = EXCLUDED.false_positives,
		            true_negatives = EXCLUDED.true_negatives,
		            false_negatives = EXCLUDED.false_negatives,
		            weight_multiplier = EXCLUDED.weight_multiplier,
		            last_updated = EXCLUDED.last_updated`
	} else {
		query = `INSERT INTO rule_accuracy (rule_name, vertical, true_positives, false_positives, true_negatives, false_negatives, weight_multiplier, last_updated)
		          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		          ON CONFLICT (rule_name, vertical) DO UPDATE SET
		            true_positives = excluded.true_positives,
		            false_positives = excluded.false_positives,
		            true_negatives = excluded.true_negatives,
		            false_negatives = excluded.false_negatives,
		            weight_multiplier = excluded.weight_multiplier,
		            last_updated = excluded.last_updated`
	}
	_, err := exec.ExecContext(ctx, r.rebind(query),
		acc.RuleName, acc.Vertical, acc.TruePositives, acc.FalsePositives, acc.TrueNegatives, acc.FalseNegatives, acc.WeightMultiplier, acc.LastUpdated)
	if err != nil {
		return fmt.Errorf("repository: upsert rule accuracy: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListRuleAccuracy(ctx context.Context, vertical domain.Vertical) ([]*domain.RuleAccuracy, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT rule_name, vertical, true_positives, false_positives, true_negatives, false_negatives, weight_multiplier, last_updated
		 FROM rule_accuracy WHERE vertical = ?`), vertical)
	if err != nil {
		return nil, fmt.Errorf("repository: list rule accuracy: %w", err)
	}
	defer rows.Close()

	var out []*domain.RuleAccuracy
	for rows.Next() {
		var a domain.RuleAccuracy
		if err := rows.Scan(&a.RuleName, &a.Vertical, &a.TruePositives, &a.FalsePositives, &a.TrueNegatives, &a.FalseNegatives, &a.WeightMultiplier, &a.LastUpdated); err != nil {
			return nil, fmt.Errorf("repository: scan rule accuracy: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- consortium ---

// --- custom rules ---

func (r *SQLRepository) SaveCustomRule(ctx context.Context, def *domain.CustomRuleDefinition) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO custom_rules (name, vertical, expression, severity, base_score, confidence, enabled, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   vertical = excluded.vertical,
		   expression = excluded.expression,
		   severity = excluded.severity,
		   base_score = excluded.base_score,
		   confidence = excluded.confidence,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`),
		def.Name, def.Vertical, def.Expression, def.Severity, def.BaseScore, def.Confidence,
		boolToInt(def.Enabled), def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: save custom rule: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]domain.CustomRuleDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, vertical, expression, severity, base_score, confidence, enabled, updated_at
		 FROM custom_rules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("repository: list custom rules: %w", err)
	}
	defer rows.Close()

	var out []domain.CustomRuleDefinition
	for rows.Next() {
		var def domain.CustomRuleDefinition
		var enabled int
		if err := rows.Scan(&def.Name, &def.Vertical, &def.Expression, &def.Severity,
			&def.BaseScore, &def.Confidence, &enabled, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan custom rule: %w", err)
		}
		def.Enabled = enabled != 0
		out = append(out, def)
	}
	return out, rows.Err()
}

// --- consortium ---

func (r *SQLRepository) GetConsortiumEntry(ctx context.Context, digest string) (*domain.ConsortiumEntry, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT digest, tenants_touched, fraud_confirmations, first_seen, last_seen FROM consortium_index WHERE digest = ?`), digest)

	var e domain.ConsortiumEntry
	var tenantsCSV string
	if err := row.Scan(&e.Digest, &tenantsCSV, &e.FraudConfirmations, &e.FirstSeen, &e.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewError(domain.KindNotFound, "consortium entry not found", nil)
		}
		return nil, fmt.Errorf("repository: get consortium entry: %w", err)
	}
	e.TenantsTouched = len(splitCSV(tenantsCSV))
	return &e, nil
}

func (r *SQLRepository) UpsertConsortiumObservation(ctx context.Context, digest, tenantID string, observedAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	seen := time.Unix(observedAt, 0).UTC()
	row := tx.QueryRowContext(ctx, r.rebind(`SELECT tenants_touched, first_seen FROM consortium_index WHERE digest = ?`), digest)

	var tenantsCSV string
	var firstSeen time.Time
	err = row.Scan(&tenantsCSV, &firstSeen)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, r.rebind(
			`INSERT INTO consortium_index (digest, tenants_touched, fraud_confirmations, first_seen, last_seen) VALUES (?, ?, 0, ?, ?)`),
			digest, tenantID, seen, seen)
		if err != nil {
			return fmt.Errorf("repository: insert consortium entry: %w", err)
		}
	case err != nil:
		return fmt.Errorf("repository: read consortium entry: %w", err)
	default:
		merged := mergeCSV(tenantsCSV, tenantID)
		_, err = tx.ExecContext(ctx, r.rebind(`UPDATE consortium_index SET tenants_touched = ?, last_seen = ? WHERE digest = ?`),
			merged, seen, digest)
		if err != nil {
			return fmt.Errorf("repository: update consortium entry: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) IncrementConsortiumFraud(ctx context.Context, digest string) error {
	if err := incrementConsortiumFraud(ctx, r, r.db, digest); err != nil {
		return fmt.Errorf("repository: increment consortium fraud: %w", err)
	}
	return nil
}

// incrementConsortiumFraud upserts so a confirmation on a digest that was
// never observed on the request path still creates an entry.
func incrementConsortiumFraud(ctx context.Context, r *SQLRepository, exec execer, digest string) error {
	now := time.Now().UTC()
	_, err := exec.ExecContext(ctx, r.rebind(
		`INSERT INTO consortium_index (digest, tenants_touched, fraud_confirmations, first_seen, last_seen)
		 VALUES (?, '', 1, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET fraud_confirmations = consortium_index.fraud_confirmations + 1`),
		digest, now, now)
	return err
}

// PruneConsortiumBefore deletes every consortium entry not seen since
// cutoff. Runs from the age-out job, never on the request path.
func (r *SQLRepository) PruneConsortiumBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(
		`DELETE FROM consortium_index WHERE last_seen < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("repository: prune consortium: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLRepository) ApplyFeedback(ctx context.Context, tenantID, transactionID string, outcome domain.ConfirmedOutcome, fraudType string, accuracyUpdates []*domain.RuleAccuracy, fraudConfirmDigests []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin feedback tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.rebind(
		`UPDATE transactions SET confirmed_outcome = ?, fraud_type = ? WHERE tenant_id = ? AND transaction_id = ?`),
		string(outcome), fraudType, tenantID, transactionID)
	if err != nil {
		return fmt.Errorf("repository: feedback set outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.KindNotFound, "transaction not found", nil)
	}

	for _, acc := range accuracyUpdates {
		if err := r.upsertRuleAccuracyTx(ctx, tx, acc); err != nil {
			return err
		}
	}

	for _, digest := range fraudConfirmDigests {
		if err := incrementConsortiumFraud(ctx, r, tx, digest); err != nil {
			return fmt.Errorf("repository: feedback consortium increment: %w", err)
		}
	}

	return tx.Commit()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func mergeCSV(csv, tenantID string) string {
	existing := splitCSV(csv)
	for _, t := range existing {
		if t == tenantID {
			return csv
		}
	}
	return strings.Join(append(existing, tenantID), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
