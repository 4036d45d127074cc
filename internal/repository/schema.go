package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomerSnapshots = `
CREATE TABLE IF NOT EXISTS customer_snapshots (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    plan TEXT NOT NULL,
    monthly_amount REAL NOT NULL DEFAULT 0,
    days_overdue INTEGER NOT NULL DEFAULT 0,
    last_payment_at TIMESTAMP,
    raw_financial INTEGER NOT NULL DEFAULT 0,
    raw_support INTEGER NOT NULL DEFAULT 0,
    raw_nps INTEGER NOT NULL DEFAULT 0,
    raw_quality INTEGER NOT NULL DEFAULT 0,
    raw_behavioral INTEGER NOT NULL DEFAULT 0,
    calls_30d INTEGER NOT NULL DEFAULT 0,
    calls_90d INTEGER NOT NULL DEFAULT 0,
    nps_score INTEGER NOT NULL DEFAULT 0,
    nps_class TEXT NOT NULL DEFAULT '',
    ltv REAL NOT NULL DEFAULT 0,
    churn_status TEXT NOT NULL DEFAULT 'active',
    cancelled_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_churn ON customer_snapshots(churn_status);
`

const schemaWorkflows = `
CREATE TABLE IF NOT EXISTS workflow_records (
    customer_id BIGINT PRIMARY KEY,
    status TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    owner_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflow_records(status);
`

const schemaRiskEvents = `
CREATE TABLE IF NOT EXISTS risk_events (
    id TEXT PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    type TEXT NOT NULL,
    impact_score INTEGER NOT NULL DEFAULT 0,
    description TEXT,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_customer ON risk_events(customer_id, occurred_at);
`

const schemaScoreWeights = `
CREATE TABLE IF NOT EXISTS score_weights (
    id INTEGER PRIMARY KEY,
    weights TEXT NOT NULL,
    thresholds TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    event_type TEXT NOT NULL,
    impact INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema definitions in creation order.
func AllSchemas() []string {
	return []string{
		schemaCustomerSnapshots,
		schemaWorkflows,
		schemaRiskEvents,
		schemaScoreWeights,
		schemaAlertRules,
	}
}
