package repository

const schemaClients = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	api_key_digest TEXT NOT NULL UNIQUE,
	tier TEXT NOT NULL,
	vertical TEXT NOT NULL,
	threshold_override INTEGER,
	webhook_url TEXT,
	webhook_signing_secret TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_api_key_digest ON clients(api_key_digest);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
	tenant_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	user_digest TEXT NOT NULL,
	amount REAL NOT NULL,
	currency TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	vertical TEXT NOT NULL,
	context_digests TEXT,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	decision TEXT NOT NULL,
	flags TEXT,
	latency_ms INTEGER NOT NULL,
	ruleset_version TEXT,
	degraded INTEGER NOT NULL DEFAULT 0,
	confirmed_outcome TEXT NOT NULL DEFAULT '',
	fraud_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, transaction_id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_tenant_created ON transactions(tenant_id, created_at);
`

const schemaRuleAccuracy = `
CREATE TABLE IF NOT EXISTS rule_accuracy (
	rule_name TEXT NOT NULL,
	vertical TEXT NOT NULL,
	true_positives INTEGER NOT NULL DEFAULT 0,
	false_positives INTEGER NOT NULL DEFAULT 0,
	true_negatives INTEGER NOT NULL DEFAULT 0,
	false_negatives INTEGER NOT NULL DEFAULT 0,
	weight_multiplier REAL NOT NULL DEFAULT 1.0,
	last_updated TIMESTAMP NOT NULL,
	PRIMARY KEY (rule_name, vertical)
);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
	name TEXT PRIMARY KEY,
	vertical TEXT NOT NULL,
	expression TEXT NOT NULL,
	severity TEXT NOT NULL,
	base_score REAL NOT NULL,
	confidence REAL NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMP NOT NULL
);
`

const schemaConsortiumIndex = `
CREATE TABLE IF NOT EXISTS consortium_index (
	digest TEXT PRIMARY KEY,
	tenants_touched TEXT NOT NULL DEFAULT '',
	fraud_confirmations INTEGER NOT NULL DEFAULT 0,
	first_seen TIMESTAMP NOT NULL,
	last_seen TIMESTAMP NOT NULL
);
`

// AllSchemas returns every CREATE TABLE statement, applied in order at
// startup. tenants_touched is a comma-joined set of tenant ids used only
// to compute the count returned to callers — callers never receive the
// set itself, only its size.
func AllSchemas() []string {
	return []string{schemaClients, schemaTransactions, schemaRuleAccuracy, schemaCustomRules, schemaConsortiumIndex}
}
