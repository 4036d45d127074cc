package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/retentionlabs/kestrel/internal/board"
	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/repository"
	"github.com/retentionlabs/kestrel/internal/rules"
	"github.com/retentionlabs/kestrel/internal/scoring"
	"github.com/retentionlabs/kestrel/internal/timeline"
	"github.com/retentionlabs/kestrel/internal/weights"
	"github.com/retentionlabs/kestrel/internal/workflow"
)

// assessmentTTL is how long render-pass assessments stay cached.
const assessmentTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	workflows  *workflow.Store
	controller *board.Controller
	weights    *weights.Store
	engine     *rules.Engine
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, workflows *workflow.Store, controller *board.Controller, ws *weights.Store, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		workflows:  workflows,
		controller: controller,
		weights:    ws,
		engine:     engine,
		version:    version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// assess computes a customer's assessment with the active weights and
// caches it for the worker and subsequent render passes.
func (h *Handler) assess(r *http.Request, snap *domain.CustomerSnapshot) domain.RiskAssessment {
	active := h.weights.Active()
	assessment := scoring.ComputeAssessment(snap, active.Weights, active.Thresholds)
	if h.cache != nil {
		if err := h.cache.SetAssessment(r.Context(), &assessment, assessmentTTL); err != nil {
			slog.Warn("failed to cache assessment", "customer_id", snap.ID, "error", err)
		}
	}
	return assessment
}

// GetBoard projects every scored customer into the four columns.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshots, err := h.repo.ListSnapshots(ctx)
	if err != nil {
		slog.Error("failed to list snapshots", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load customers")
		return
	}

	wfs, err := h.workflows.GetAll(ctx)
	if err != nil {
		slog.Error("failed to list workflows", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load workflows")
		return
	}

	assessments := make(map[int64]*domain.RiskAssessment, len(snapshots))
	for _, snap := range snapshots {
		a := h.assess(r, snap)
		assessments[snap.ID] = &a
	}

	writeJSON(w, http.StatusOK, board.BuildBoard(snapshots, assessments, wfs))
}

// MoveRequest is the request body for POST /board/move.
type MoveRequest struct {
	CustomerID int64         `json:"customerId"`
	From       domain.Column `json:"from"`
	To         domain.Column `json:"to"`
}

// MoveCard executes the workflow transition implied by a drag gesture.
func (h *Handler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CustomerID <= 0 {
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}

	result, err := h.controller.Move(r.Context(), req.CustomerID, req.From, req.To)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)

	case errors.Is(err, board.ErrMoveInFlight):
		writeError(w, http.StatusConflict, "another move is in flight")

	case errors.Is(err, board.ErrDragRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, board.ErrPartialMove):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "transition partially applied",
			"result": result,
		})

	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "transition failed",
			"result": result,
		})
	}
}

// CustomerView bundles everything the detail panel needs.
type CustomerView struct {
	Snapshot   *domain.CustomerSnapshot `json:"snapshot"`
	Assessment domain.RiskAssessment    `json:"assessment"`
	Workflow   *domain.WorkflowRecord   `json:"workflow,omitempty"`
}

// ListCustomers returns all snapshots with their assessments.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.repo.ListSnapshots(r.Context())
	if err != nil {
		slog.Error("failed to list snapshots", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load customers")
		return
	}

	views := make([]CustomerView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, CustomerView{
			Snapshot:   snap,
			Assessment: h.assess(r, snap),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customers": views,
		"count":     len(views),
	})
}

// GetCustomer returns one customer's snapshot, assessment and workflow.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	snap, err := h.repo.GetSnapshot(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		slog.Error("failed to get snapshot", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to load customer")
		return
	}

	view := CustomerView{
		Snapshot:   snap,
		Assessment: h.assess(r, snap),
	}

	rec, err := h.workflows.Get(r.Context(), customerID)
	if err == nil {
		view.Workflow = rec
	} else if !errors.Is(err, domain.ErrNoWorkflow) {
		slog.Error("failed to get workflow", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to load workflow")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GetTimeline returns a customer's merged event timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	snap, err := h.repo.GetSnapshot(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		slog.Error("failed to get snapshot", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to load customer")
		return
	}

	persisted, err := h.repo.ListEvents(ctx, customerID)
	if err != nil {
		slog.Error("failed to list events", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to load events")
		return
	}

	var ruleEvents []*domain.RiskEvent
	if h.engine != nil {
		ruleEvents = h.engine.EvaluateAll(ctx, snap)
	}

	events := timeline.Synthesize(customerID, persisted, snap, h.weights.Active().Weights, ruleEvents)

	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": customerID,
		"events":     events,
		"count":      len(events),
	})
}

// TreatmentRequest is the request body for POST /customers/{id}/treatment.
type TreatmentRequest struct {
	Tags []string `json:"tags,omitempty"`
}

// StartTreatment creates the workflow record for a customer.
func (h *Handler) StartTreatment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	var req TreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rec, err := h.workflows.StartTreatment(r.Context(), customerID, req.Tags)
	if errors.Is(err, domain.ErrAlreadyInTreatment) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "customer already has a workflow",
			"workflow": rec,
		})
		return
	}
	if err != nil {
		slog.Error("failed to start treatment", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to start treatment")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// StatusRequest is the request body for PUT /customers/{id}/status.
type StatusRequest struct {
	Status domain.WorkflowStatus `json:"status"`
}

// SetStatus overwrites a customer's workflow status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rec, err := h.workflows.SetStatus(r.Context(), customerID, req.Status)
	if err != nil {
		h.writeWorkflowError(w, customerID, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// TagsRequest is the request body for PUT /customers/{id}/tags.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// SetTags replaces a customer's tag set.
func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rec, err := h.workflows.SetTags(r.Context(), customerID, req.Tags)
	if err != nil {
		h.writeWorkflowError(w, customerID, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// OwnerRequest is the request body for PUT /customers/{id}/owner.
// A null ownerId clears the assignment.
type OwnerRequest struct {
	OwnerID *string `json:"ownerId"`
}

// SetOwner assigns or clears the responsible operator.
func (h *Handler) SetOwner(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	var req OwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	rec, err := h.workflows.SetOwner(r.Context(), customerID, req.OwnerID)
	if err != nil {
		h.writeWorkflowError(w, customerID, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// WeightsResponse is the payload for GET and PUT /weights.
type WeightsResponse struct {
	Weights    domain.ScoreWeights     `json:"weights"`
	Thresholds domain.BucketThresholds `json:"thresholds"`
}

// GetWeights returns the active scoring configuration.
func (h *Handler) GetWeights(w http.ResponseWriter, r *http.Request) {
	active := h.weights.Active()
	writeJSON(w, http.StatusOK, WeightsResponse{
		Weights:    active.Weights,
		Thresholds: active.Thresholds,
	})
}

// SaveWeights validates, persists and activates a new configuration.
func (h *Handler) SaveWeights(w http.ResponseWriter, r *http.Request) {
	var req WeightsResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	// Omitted thresholds keep the current boundaries.
	if req.Thresholds == (domain.BucketThresholds{}) {
		req.Thresholds = h.weights.Active().Thresholds
	}

	if err := h.weights.Save(r.Context(), req.Weights, req.Thresholds); err != nil {
		if errors.Is(err, domain.ErrInvalidWeights) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("failed to save weights", "error", err)
		writeError(w, http.StatusBadGateway, "failed to save weights")
		return
	}

	active := h.weights.Active()
	writeJSON(w, http.StatusOK, WeightsResponse{
		Weights:    active.Weights,
		Thresholds: active.Thresholds,
	})
}

// ListRules returns all persisted alert rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rulesList, err := h.repo.ListAlertRules(r.Context())
	if err != nil {
		slog.Error("failed to list alert rules", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load rules")
		return
	}

	loaded := 0
	if h.engine != nil {
		loaded = h.engine.RulesCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rulesList,
		"count":  len(rulesList),
		"loaded": loaded,
	})
}

// CreateRule validates and persists a new alert rule. Call POST
// /rules/reload to load it into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" || rule.EventType == "" {
		writeError(w, http.StatusBadRequest, "id, name, expression and eventType are required")
		return
	}

	if h.engine != nil {
		if err := h.engine.ValidateRule(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
			return
		}
	}

	if err := h.repo.SaveAlertRule(r.Context(), &rule); err != nil {
		slog.Error("failed to save alert rule", "id", rule.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to save rule")
		return
	}

	slog.Info("alert rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule removes an alert rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeError(w, http.StatusBadRequest, "rule id is required")
		return
	}

	if err := h.repo.DeleteAlertRule(r.Context(), ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		slog.Error("failed to delete alert rule", "id", ruleID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to delete rule")
		return
	}

	// Auto-reload after delete so the engine stops evaluating the rule.
	if h.engine != nil {
		if rulesList, err := h.repo.ListAlertRules(r.Context()); err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		} else if err := h.engine.ReloadRules(rulesList); err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		}
	}

	slog.Info("alert rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads all persisted rules into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	rulesList, err := h.repo.ListAlertRules(r.Context())
	if err != nil {
		slog.Error("failed to list alert rules", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load rules")
		return
	}

	if err := h.engine.ReloadRules(rulesList); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("alert rules reloaded", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// UpsertSnapshot is the upstream write path: the ETL (or the seed tool)
// pushes refreshed customer snapshots here.
func (h *Handler) UpsertSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap domain.CustomerSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if snap.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	if err := h.repo.UpsertSnapshot(r.Context(), &snap); err != nil {
		slog.Error("failed to upsert snapshot", "customer_id", snap.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to save snapshot")
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]int64{"customerId": snap.ID})
		if err := h.bus.Publish(r.Context(), domain.TopicSnapshotUpdated, payload); err != nil {
			slog.Warn("failed to publish snapshot update", "customer_id", snap.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": snap.ID,
		"updatedAt":  snap.UpdatedAt,
	})
}

// writeWorkflowError maps workflow store errors to HTTP statuses.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, customerID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrNoWorkflow):
		writeError(w, http.StatusNotFound, "customer has no workflow")
	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("workflow mutation failed", "customer_id", customerID, "error", err)
		writeError(w, http.StatusBadGateway, "transition failed")
	}
}

func customerIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
