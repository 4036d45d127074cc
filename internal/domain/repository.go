package domain

import (
	"context"
	"time"
)

// Repository defines the persistence contract of the core. It is the
// sole source of truth for workflow state; the core never keeps a
// competing copy.
type Repository interface {
	// Customer snapshots (written by the upstream ETL / seed tool)
	UpsertSnapshot(ctx context.Context, snap *CustomerSnapshot) error
	GetSnapshot(ctx context.Context, customerID int64) (*CustomerSnapshot, error)
	ListSnapshots(ctx context.Context) ([]*CustomerSnapshot, error)

	// Workflow records: upsert + read-all semantics, keyed by customer id
	GetWorkflow(ctx context.Context, customerID int64) (*WorkflowRecord, error)
	GetAllWorkflows(ctx context.Context) (map[int64]*WorkflowRecord, error)
	UpsertWorkflow(ctx context.Context, rec *WorkflowRecord) error

	// Persisted risk events
	SaveEvent(ctx context.Context, ev *RiskEvent) error
	ListEvents(ctx context.Context, customerID int64) ([]*RiskEvent, error)

	// Score weights + bucket thresholds (single-row key-value persistence)
	LoadWeights(ctx context.Context) (*ScoreWeights, *BucketThresholds, error)
	SaveWeights(ctx context.Context, w ScoreWeights, t BucketThresholds) error

	// Custom alert rules
	SaveAlertRule(ctx context.Context, rule *AlertRule) error
	ListAlertRules(ctx context.Context) ([]*AlertRule, error)
	DeleteAlertRule(ctx context.Context, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
