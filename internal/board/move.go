package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/retentionlabs/kestrel/internal/domain"
)

// Drag handling errors.
var (
	// ErrDragRejected: the gesture implies no legal transition. Dropping
	// onto em_risco is always rejected: that column is the absence of a
	// workflow record, and the core exposes no delete operation.
	ErrDragRejected = errors.New("drag rejected")

	// ErrMoveInFlight: a second drag completed while a transition was
	// still pending. The gesture is ignored, not queued.
	ErrMoveInFlight = errors.New("another move is in flight")

	// ErrPartialMove: the start step of a two-step move succeeded but
	// the status step failed after a retry. The customer is left in
	// em_tratamento rather than the intended terminal status.
	ErrPartialMove = errors.New("move partially applied")
)

// Intent is the resolved meaning of a drag gesture.
type Intent int

const (
	// IntentNone: same-column drop or status already matches; no store
	// mutation is issued.
	IntentNone Intent = iota

	// IntentStart: create the workflow record (drop onto tratamento
	// with no record).
	IntentStart

	// IntentStartThenSet: create the record then advance it (drop onto
	// resolvido/perdido with no record). Two remote operations for one
	// gesture.
	IntentStartThenSet

	// IntentSet: overwrite the status of an existing record.
	IntentSet
)

// WorkflowService is the slice of the workflow store the controller
// needs. Satisfied by *workflow.Store.
type WorkflowService interface {
	StartTreatment(ctx context.Context, customerID int64, initialTags []string) (*domain.WorkflowRecord, error)
	SetStatus(ctx context.Context, customerID int64, status domain.WorkflowStatus) (*domain.WorkflowRecord, error)
	Get(ctx context.Context, customerID int64) (*domain.WorkflowRecord, error)
}

// Controller orchestrates drag-triggered workflow transitions with a
// board-wide single-flight guard.
type Controller struct {
	workflows WorkflowService
	bus       domain.EventBus
	pending   atomic.Bool
}

// NewController creates a board controller. The bus may be nil.
func NewController(workflows WorkflowService, bus domain.EventBus) *Controller {
	return &Controller{workflows: workflows, bus: bus}
}

// ResolveDrag turns a gesture into an intent, decoupled from any
// pointer-tracking machinery so the transition table is testable on its
// own. current is only consulted when hasWorkflow is true.
func ResolveDrag(from, to domain.Column, hasWorkflow bool, current domain.WorkflowStatus) (Intent, domain.WorkflowStatus, error) {
	if !domain.ValidColumn(from) || !domain.ValidColumn(to) {
		return IntentNone, "", fmt.Errorf("%w: unknown column", ErrDragRejected)
	}
	if to == from {
		return IntentNone, "", nil
	}
	if to == domain.ColumnEmRisco {
		return IntentNone, "", fmt.Errorf("%w: em_risco cannot be a destination", ErrDragRejected)
	}

	target, ok := columnStatus(to)
	if !ok {
		return IntentNone, "", fmt.Errorf("%w: unknown column %q", ErrDragRejected, to)
	}

	if !hasWorkflow {
		if to == domain.ColumnTratamento {
			return IntentStart, domain.StatusEmTratamento, nil
		}
		return IntentStartThenSet, target, nil
	}

	if current == target {
		return IntentNone, "", nil
	}
	return IntentSet, target, nil
}

// MoveResult reports the outcome of a drag-triggered transition. Column
// is always re-derived from the record the store last acknowledged, never
// from an optimistic client-side copy.
type MoveResult struct {
	CustomerID int64                  `json:"customerId"`
	Column     domain.Column          `json:"column"`
	Record     *domain.WorkflowRecord `json:"record,omitempty"`
	Mutations  int                    `json:"mutations"` // store writes issued
	Partial    bool                   `json:"partial"`   // step 1 committed, step 2 did not
}

// Move executes the transition implied by dragging a customer card from
// one column to another. At most one move runs at a time: a gesture
// arriving while another is in flight fails with ErrMoveInFlight.
//
// The two-step sequence runs as a saga: the start step is effectively
// idempotent (an existing record is not an error), and the status step is
// retried once before the move is reported as partial.
func (c *Controller) Move(ctx context.Context, customerID int64, from, to domain.Column) (*MoveResult, error) {
	if !c.pending.CompareAndSwap(false, true) {
		return nil, ErrMoveInFlight
	}
	defer c.pending.Store(false)

	rec, err := c.workflows.Get(ctx, customerID)
	hasWorkflow := err == nil
	if err != nil && !errors.Is(err, domain.ErrNoWorkflow) {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	var current domain.WorkflowStatus
	if hasWorkflow {
		current = rec.Status
	}

	intent, target, err := ResolveDrag(from, to, hasWorkflow, current)
	if err != nil {
		return nil, err
	}

	result := &MoveResult{CustomerID: customerID, Column: from, Record: rec}
	if hasWorkflow {
		result.Column = statusColumn(rec.Status)
	}

	switch intent {
	case IntentNone:
		return result, nil

	case IntentStart:
		return c.start(ctx, customerID, result)

	case IntentSet:
		rec, err := c.workflows.SetStatus(ctx, customerID, target)
		if err != nil {
			c.reportFailure(ctx, customerID, from, to, err)
			return result, fmt.Errorf("transition failed: %w", err)
		}
		result.Mutations++
		result.Record = rec
		result.Column = statusColumn(rec.Status)
		return result, nil

	case IntentStartThenSet:
		if result, err = c.start(ctx, customerID, result); err != nil {
			c.reportFailure(ctx, customerID, from, to, err)
			return result, err
		}

		rec, err := c.workflows.SetStatus(ctx, customerID, target)
		if err != nil {
			slog.Warn("second step of move failed, retrying once",
				"customer_id", customerID,
				"target", target,
				"error", err,
			)
			rec, err = c.workflows.SetStatus(ctx, customerID, target)
		}
		if err != nil {
			// Known inconsistency: the customer stays em_tratamento
			// instead of the intended terminal status. Surfaced to the
			// operator, no automatic compensation beyond the retry.
			result.Partial = true
			c.reportFailure(ctx, customerID, from, to, err)
			return result, fmt.Errorf("%w: %v", ErrPartialMove, err)
		}
		result.Mutations++
		result.Record = rec
		result.Column = statusColumn(rec.Status)
		return result, nil
	}

	return nil, fmt.Errorf("%w: unhandled intent", ErrDragRejected)
}

// start runs the saga's creation step. ErrAlreadyInTreatment is benign:
// the step's goal is "a record exists", and it does.
func (c *Controller) start(ctx context.Context, customerID int64, result *MoveResult) (*MoveResult, error) {
	rec, err := c.workflows.StartTreatment(ctx, customerID, nil)
	switch {
	case err == nil:
		result.Mutations++
	case errors.Is(err, domain.ErrAlreadyInTreatment):
		// rec holds the existing record
	default:
		return result, fmt.Errorf("transition failed: %w", err)
	}
	result.Record = rec
	result.Column = statusColumn(rec.Status)
	return result, nil
}

func (c *Controller) reportFailure(ctx context.Context, customerID int64, from, to domain.Column, cause error) {
	slog.Error("board move failed",
		"customer_id", customerID,
		"from", from,
		"to", to,
		"error", cause,
	)
	if c.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"customerId": customerID,
		"from":       from,
		"to":         to,
		"error":      cause.Error(),
	})
	if err := c.bus.Publish(ctx, domain.TopicBoardMoveFailed, payload); err != nil {
		slog.Warn("failed to publish move failure", "error", err)
	}
}
