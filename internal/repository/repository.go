// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/retentionlabs/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnapshot stores or replaces a customer snapshot.
func (r *SQLRepository) UpsertSnapshot(ctx context.Context, snap *domain.CustomerSnapshot) error {
	if snap == nil || snap.ID == 0 {
		return fmt.Errorf("%w: snapshot with customer id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO customer_snapshots (
			id, name, plan, monthly_amount, days_overdue, last_payment_at,
			raw_financial, raw_support, raw_nps, raw_quality, raw_behavioral,
			calls_30d, calls_90d, nps_score, nps_class, ltv,
			churn_status, cancelled_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			plan = excluded.plan,
			monthly_amount = excluded.monthly_amount,
			days_overdue = excluded.days_overdue,
			last_payment_at = excluded.last_payment_at,
			raw_financial = excluded.raw_financial,
			raw_support = excluded.raw_support,
			raw_nps = excluded.raw_nps,
			raw_quality = excluded.raw_quality,
			raw_behavioral = excluded.raw_behavioral,
			calls_30d = excluded.calls_30d,
			calls_90d = excluded.calls_90d,
			nps_score = excluded.nps_score,
			nps_class = excluded.nps_class,
			ltv = excluded.ltv,
			churn_status = excluded.churn_status,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.ID, snap.Name, snap.Plan,
		snap.MonthlyAmount, snap.DaysOverdue, nullTime(snap.LastPaymentAt),
		snap.RawFinancial, snap.RawSupport, snap.RawNPS, snap.RawQuality, snap.RawBehavioral,
		snap.Calls30d, snap.Calls90d, snap.NPSScore, snap.NPSClass, snap.LTV,
		snap.ChurnStatus, nullTime(snap.CancelledAt), snap.UpdatedAt,
	)
	return err
}

const snapshotColumns = `
		id, name, plan, monthly_amount, days_overdue, last_payment_at,
		raw_financial, raw_support, raw_nps, raw_quality, raw_behavioral,
		calls_30d, calls_90d, nps_score, nps_class, ltv,
		churn_status, cancelled_at, updated_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*domain.CustomerSnapshot, error) {
	var snap domain.CustomerSnapshot
	var lastPayment, cancelled sql.NullTime

	err := row.Scan(
		&snap.ID, &snap.Name, &snap.Plan,
		&snap.MonthlyAmount, &snap.DaysOverdue, &lastPayment,
		&snap.RawFinancial, &snap.RawSupport, &snap.RawNPS, &snap.RawQuality, &snap.RawBehavioral,
		&snap.Calls30d, &snap.Calls90d, &snap.NPSScore, &snap.NPSClass, &snap.LTV,
		&snap.ChurnStatus, &cancelled, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastPayment.Valid {
		snap.LastPaymentAt = &lastPayment.Time
	}
	if cancelled.Valid {
		snap.CancelledAt = &cancelled.Time
	}
	return &snap, nil
}

// GetSnapshot retrieves a customer snapshot by id.
func (r *SQLRepository) GetSnapshot(ctx context.Context, customerID int64) (*domain.CustomerSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM customer_snapshots WHERE id = ?`

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, r.rebind(query), customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots retrieves all customer snapshots.
func (r *SQLRepository) ListSnapshots(ctx context.Context) ([]*domain.CustomerSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM customer_snapshots ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.CustomerSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetWorkflow retrieves the workflow record for a customer.
func (r *SQLRepository) GetWorkflow(ctx context.Context, customerID int64) (*domain.WorkflowRecord, error) {
	query := `
		SELECT customer_id, status, tags, owner_id, created_at, updated_at
		FROM workflow_records
		WHERE customer_id = ?
	`

	rec, err := scanWorkflow(r.db.QueryRowContext(ctx, r.rebind(query), customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return rec, nil
}

// GetAllWorkflows retrieves every workflow record keyed by customer id.
func (r *SQLRepository) GetAllWorkflows(ctx context.Context) (map[int64]*domain.WorkflowRecord, error) {
	query := `
		SELECT customer_id, status, tags, owner_id, created_at, updated_at
		FROM workflow_records
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*domain.WorkflowRecord)
	for rows.Next() {
		rec, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out[rec.CustomerID] = rec
	}
	return out, rows.Err()
}

func scanWorkflow(row interface{ Scan(...any) error }) (*domain.WorkflowRecord, error) {
	var rec domain.WorkflowRecord
	var tags string
	var owner sql.NullString

	err := row.Scan(&rec.CustomerID, &rec.Status, &tags, &owner, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if owner.Valid {
		rec.OwnerID = &owner.String
	}
	return &rec, nil
}

// UpsertWorkflow stores or replaces a workflow record.
func (r *SQLRepository) UpsertWorkflow(ctx context.Context, rec *domain.WorkflowRecord) error {
	if rec == nil || rec.CustomerID == 0 {
		return fmt.Errorf("%w: workflow record with customer id is required", ErrInvalidInput)
	}

	tags, _ := json.Marshal(rec.Tags)
	if rec.Tags == nil {
		tags = []byte("[]")
	}

	query := `
		INSERT INTO workflow_records (customer_id, status, tags, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			status = excluded.status,
			tags = excluded.tags,
			owner_id = excluded.owner_id,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.CustomerID, string(rec.Status), string(tags), nullString(rec.OwnerID),
		rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// SaveEvent stores a persisted risk event.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.RiskEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO risk_events (id, customer_id, type, impact_score, description, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.CustomerID, ev.Type, ev.ImpactScore, ev.Description, ev.OccurredAt,
	)
	return err
}

// ListEvents retrieves the persisted events for a customer, newest first.
func (r *SQLRepository) ListEvents(ctx context.Context, customerID int64) ([]*domain.RiskEvent, error) {
	query := `
		SELECT id, customer_id, type, impact_score, description, occurred_at
		FROM risk_events
		WHERE customer_id = ?
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var desc sql.NullString
		if err := rows.Scan(&ev.ID, &ev.CustomerID, &ev.Type, &ev.ImpactScore, &desc, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Description = desc.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// weightsRowID is the fixed key of the single score-weights row.
const weightsRowID = 1

// LoadWeights retrieves the persisted scoring configuration.
func (r *SQLRepository) LoadWeights(ctx context.Context) (*domain.ScoreWeights, *domain.BucketThresholds, error) {
	query := `SELECT weights, thresholds FROM score_weights WHERE id = ?`

	var weightsJSON, thresholdsJSON string
	err := r.db.QueryRowContext(ctx, r.rebind(query), weightsRowID).Scan(&weightsJSON, &thresholdsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load weights: %w", err)
	}

	var w domain.ScoreWeights
	var t domain.BucketThresholds
	if err := json.Unmarshal([]byte(weightsJSON), &w); err != nil {
		return nil, nil, fmt.Errorf("corrupt weights row: %w", err)
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &t); err != nil {
		return nil, nil, fmt.Errorf("corrupt thresholds row: %w", err)
	}
	return &w, &t, nil
}

// SaveWeights stores the scoring configuration (single-row upsert).
func (r *SQLRepository) SaveWeights(ctx context.Context, w domain.ScoreWeights, t domain.BucketThresholds) error {
	weightsJSON, _ := json.Marshal(w)
	thresholdsJSON, _ := json.Marshal(t)

	query := `
		INSERT INTO score_weights (id, weights, thresholds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			weights = excluded.weights,
			thresholds = excluded.thresholds,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		weightsRowID, string(weightsJSON), string(thresholdsJSON), time.Now().UTC(),
	)
	return err
}

// SaveAlertRule stores or replaces an alert rule.
func (r *SQLRepository) SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO alert_rules (id, name, description, expression, event_type, impact, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			event_type = excluded.event_type,
			impact = excluded.impact,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.EventType, rule.Impact, enabled, now, now,
	)
	return err
}

// ListAlertRules retrieves all alert rules, enabled or not.
func (r *SQLRepository) ListAlertRules(ctx context.Context) ([]*domain.AlertRule, error) {
	query := `
		SELECT id, name, description, expression, event_type, impact, enabled
		FROM alert_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		var desc sql.NullString
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &desc, &rule.Expression, &rule.EventType, &rule.Impact, &enabled); err != nil {
			return nil, err
		}
		rule.Description = desc.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteAlertRule removes an alert rule.
func (r *SQLRepository) DeleteAlertRule(ctx context.Context, ruleID string) error {
	query := `DELETE FROM alert_rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database health.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
