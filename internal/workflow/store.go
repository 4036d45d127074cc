// Package workflow implements the retention workflow state machine.
//
// States: absent (never worked), em_tratamento, resolvido, perdido.
// A record is created only by StartTreatment, mutated in place by the
// Set* operations and never deleted by the core; absence of a record is
// itself meaningful ("not yet being worked").
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/repository"
)

// lockStripes bounds the mutex table. Customer ids are stable integers,
// so striping gives per-customer serialization without unbounded growth.
const lockStripes = 64

// Store mediates all workflow mutations. The repository is the sole
// source of truth; the store adds per-customer serialization and event
// publication on top of it.
type Store struct {
	repo domain.Repository
	bus  domain.EventBus

	locks [lockStripes]sync.Mutex
}

// NewStore creates a workflow store. The bus may be nil (events are then
// skipped), which the tests use.
func NewStore(repo domain.Repository, bus domain.EventBus) *Store {
	return &Store{repo: repo, bus: bus}
}

func (s *Store) lock(customerID int64) *sync.Mutex {
	return &s.locks[uint64(customerID)%lockStripes]
}

// StartTreatment creates the workflow record for a customer, initial
// status em_tratamento with no owner. Returns ErrAlreadyInTreatment when
// a record already exists: the operation is strict, not idempotent, and
// callers needing idempotency (the board saga) treat that error as
// benign and fetch the existing record.
func (s *Store) StartTreatment(ctx context.Context, customerID int64, initialTags []string) (*domain.WorkflowRecord, error) {
	mu := s.lock(customerID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.repo.GetWorkflow(ctx, customerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if existing != nil {
		return existing, domain.ErrAlreadyInTreatment
	}

	now := time.Now().UTC()
	rec := &domain.WorkflowRecord{
		CustomerID: customerID,
		Status:     domain.StatusEmTratamento,
		Tags:       domain.NormalizeTags(initialTags),
		OwnerID:    nil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.UpsertWorkflow(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.publish(ctx, domain.TopicWorkflowStarted, rec)
	slog.Info("treatment started", "customer_id", customerID, "tags", rec.Tags)
	return rec, nil
}

// SetStatus overwrites the workflow status. All three non-initial states
// are mutually reachable; reopening perdido back to em_tratamento is
// deliberately allowed.
func (s *Store) SetStatus(ctx context.Context, customerID int64, status domain.WorkflowStatus) (*domain.WorkflowRecord, error) {
	if !domain.ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	return s.mutate(ctx, customerID, domain.TopicWorkflowStatusChanged, func(rec *domain.WorkflowRecord) {
		rec.Status = status
	})
}

// SetTags replaces the tag set wholesale.
func (s *Store) SetTags(ctx context.Context, customerID int64, tags []string) (*domain.WorkflowRecord, error) {
	return s.mutate(ctx, customerID, domain.TopicWorkflowTagsChanged, func(rec *domain.WorkflowRecord) {
		rec.Tags = domain.NormalizeTags(tags)
	})
}

// SetOwner assigns or clears (nil) the responsible operator.
func (s *Store) SetOwner(ctx context.Context, customerID int64, ownerID *string) (*domain.WorkflowRecord, error) {
	return s.mutate(ctx, customerID, domain.TopicWorkflowOwnerChanged, func(rec *domain.WorkflowRecord) {
		rec.OwnerID = ownerID
	})
}

// Get returns the record for a customer, or ErrNoWorkflow.
func (s *Store) Get(ctx context.Context, customerID int64) (*domain.WorkflowRecord, error) {
	rec, err := s.repo.GetWorkflow(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrNoWorkflow
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return rec, nil
}

// GetAll returns every workflow record keyed by customer id.
func (s *Store) GetAll(ctx context.Context) (map[int64]*domain.WorkflowRecord, error) {
	return s.repo.GetAllWorkflows(ctx)
}

// mutate loads, applies and persists a change under the customer's lock.
// Fails with ErrNoWorkflow when no record exists.
func (s *Store) mutate(ctx context.Context, customerID int64, topic string, apply func(*domain.WorkflowRecord)) (*domain.WorkflowRecord, error) {
	mu := s.lock(customerID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.repo.GetWorkflow(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrNoWorkflow
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	apply(rec)
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertWorkflow(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	s.publish(ctx, topic, rec)
	return rec, nil
}

func (s *Store) publish(ctx context.Context, topic string, rec *domain.WorkflowRecord) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish workflow event",
			"topic", topic,
			"customer_id", rec.CustomerID,
			"error", err,
		)
	}
}
