//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel retention core.
//
// These tests verify the COMPLETE dashboard pipeline:
//
//	Snapshot → Score → Board → Drag → Workflow → Timeline
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SNAPSHOT: Per-customer signal aggregate (billing, support calls, NPS)
//    delivered by upstream ETL via POST /snapshots
//
// 2. SCORE: Weighted blend of five pillars (financial, support, nps,
//    quality, behavioral) clamped to 0-500
//
// 3. BUCKET: Score-to-band mapping:
//   - Score   0 - 119  → OK
//   - Score 120 - 249  → ALERTA
//   - Score 250 - 500  → CRÍTICO
//
// 4. BOARD: Four columns (em_risco, tratamento, resolvido, perdido).
//    Scored-at-risk customers with no workflow land in em_risco.
//
// 5. DRAG: POST /board/move applies a one or two step transition through
//    the workflow state machine. Moving back onto em_risco is rejected.
//
// These tests target a RUNNING Kestrel instance and create their own
// customers in a high ID range to avoid colliding with seeded data.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL    string
	OperatorID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:    baseURL,
		OperatorID: "integration-op",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// Snapshot is the payload sent to POST /snapshots
type Snapshot struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Plan          string  `json:"plan"`
	MonthlyAmount float64 `json:"monthlyAmount"`
	DaysOverdue   int     `json:"daysOverdue"`
	RawFinancial  int     `json:"rawFinancial"`
	RawSupport    int     `json:"rawSupport"`
	RawNPS        int     `json:"rawNps"`
	RawQuality    int     `json:"rawQuality"`
	RawBehavioral int     `json:"rawBehavioral"`
	Calls30d      int     `json:"calls30d"`
	Calls90d      int     `json:"calls90d"`
	NPSScore      int     `json:"npsScore"`
	NPSClass      string  `json:"npsClass"`
	LTV           float64 `json:"ltv"`
	ChurnStatus   string  `json:"churnStatus"`
}

// Assessment is the scored view returned inside customer and board payloads
type Assessment struct {
	CustomerID int64  `json:"customerId"`
	Score      int    `json:"score"`
	Bucket     string `json:"bucket"`
}

// CustomerView is what GET /customers/{id} returns
type CustomerView struct {
	Snapshot   Snapshot   `json:"snapshot"`
	Assessment Assessment `json:"assessment"`
	Workflow   *struct {
		CustomerID int64    `json:"customerId"`
		Status     string   `json:"status"`
		Tags       []string `json:"tags"`
	} `json:"workflow,omitempty"`
}

// Board is the GET /board projection
type Board struct {
	Columns []struct {
		ID    string `json:"id"`
		Cards []struct {
			CustomerID int64  `json:"customerId"`
			Score      int    `json:"score"`
			Bucket     string `json:"bucket"`
		} `json:"cards"`
	} `json:"columns"`
}

// MoveRequest is the POST /board/move payload
type MoveRequest struct {
	CustomerID int64  `json:"customerId"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doJSON(t *testing.T, config TestConfig, method, path string, payload any, operator bool) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if operator {
		req.Header.Set("X-Operator-ID", config.OperatorID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func upsertSnapshot(t *testing.T, config TestConfig, snap Snapshot) {
	t.Helper()
	resp, body := doJSON(t, config, "POST", "/snapshots", snap, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Snapshot upsert failed: status %d: %s", resp.StatusCode, string(body))
	}
}

func getBoard(t *testing.T, config TestConfig) Board {
	t.Helper()
	resp, body := doJSON(t, config, "GET", "/board", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /board failed: status %d: %s", resp.StatusCode, string(body))
	}
	var b Board
	if err := json.Unmarshal(body, &b); err != nil {
		t.Fatalf("Failed to unmarshal board: %v (body: %s)", err, string(body))
	}
	return b
}

func findCard(b Board, column string, customerID int64) bool {
	for _, col := range b.Columns {
		if col.ID != column {
			continue
		}
		for _, card := range col.Cards {
			if card.CustomerID == customerID {
				return true
			}
		}
	}
	return false
}

// criticalSnapshot builds a snapshot that scores well past the critical
// threshold regardless of reasonable weight configuration.
func criticalSnapshot(id int64, name string) Snapshot {
	return Snapshot{
		ID:            id,
		Name:          name,
		Plan:          "Fibra 600",
		MonthlyAmount: 189.90,
		DaysOverdue:   75,
		RawFinancial:  30,
		RawSupport:    0,
		RawNPS:        30,
		RawQuality:    25,
		RawBehavioral: 20,
		Calls30d:      12,
		Calls90d:      30,
		NPSScore:      2,
		NPSClass:      "detractor",
		LTV:           4200,
		ChurnStatus:   "at_risk",
	}
}

func healthySnapshot(id int64, name string) Snapshot {
	return Snapshot{
		ID:            id,
		Name:          name,
		Plan:          "Fibra 200",
		MonthlyAmount: 89.90,
		NPSScore:      10,
		NPSClass:      "promoter",
		LTV:           2100,
		ChurnStatus:   "active",
	}
}

// ============================================================================
// SCENARIO 1: Snapshot to Board (Scoring Pipeline)
// ============================================================================

func TestCriticalCustomerLandsInEmRisco(t *testing.T) {
	/*
	   SCENARIO: A customer with 75 days overdue, a call burst and a
	   detractor NPS is upserted and immediately projected on the board.

	   EXPECTED BEHAVIOR:
	   - Score is in the CRÍTICO band (>= 250)
	   - The customer appears in the em_risco column (no workflow yet)
	*/
	config := getTestConfig()
	const customerID = 910001

	upsertSnapshot(t, config, criticalSnapshot(customerID, "Integração Crítica Ltda"))

	board := getBoard(t, config)
	if !findCard(board, "em_risco", customerID) {
		t.Fatalf("Expected customer %d in em_risco column", customerID)
	}

	resp, body := doJSON(t, config, "GET", fmt.Sprintf("/customers/%d", customerID), nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /customers/%d failed: status %d", customerID, resp.StatusCode)
	}
	var view CustomerView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("Failed to unmarshal customer view: %v", err)
	}

	if view.Assessment.Bucket != "CRITICO" {
		t.Errorf("Expected bucket CRITICO, got %s (score %d)", view.Assessment.Bucket, view.Assessment.Score)
	}

	t.Logf("✓ Critical customer projected: score=%d, bucket=%s", view.Assessment.Score, view.Assessment.Bucket)
}

func TestHealthyCustomerAbsentFromEmRisco(t *testing.T) {
	/*
	   SCENARIO: A promoter with zero overdue days and no call activity.

	   EXPECTED BEHAVIOR:
	   - Score is in the OK band
	   - The customer does NOT appear in em_risco
	*/
	config := getTestConfig()
	const customerID = 910002

	upsertSnapshot(t, config, healthySnapshot(customerID, "Integração Saudável ME"))

	board := getBoard(t, config)
	if findCard(board, "em_risco", customerID) {
		t.Errorf("Healthy customer %d should not appear in em_risco", customerID)
	}

	t.Logf("✓ Healthy customer correctly absent from em_risco")
}

// ============================================================================
// SCENARIO 2: Drag Transitions (Board → Workflow)
// ============================================================================

func TestDragToTreatmentAndResolve(t *testing.T) {
	/*
	   SCENARIO: Operator drags a critical card from em_risco into
	   tratamento, then into resolvido.

	   EXPECTED BEHAVIOR:
	   - First drag starts a workflow (status em_tratamento)
	   - Second drag advances the workflow to resolvido
	   - The card follows the workflow across columns
	*/
	config := getTestConfig()
	const customerID = 910003

	upsertSnapshot(t, config, criticalSnapshot(customerID, "Integração Tratamento SA"))

	resp, body := doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: customerID, From: "em_risco", To: "tratamento"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Drag to tratamento failed: status %d: %s", resp.StatusCode, string(body))
	}

	board := getBoard(t, config)
	if !findCard(board, "tratamento", customerID) {
		t.Fatalf("Expected customer %d in tratamento after drag", customerID)
	}

	resp, body = doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: customerID, From: "tratamento", To: "resolvido"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Drag to resolvido failed: status %d: %s", resp.StatusCode, string(body))
	}

	board = getBoard(t, config)
	if !findCard(board, "resolvido", customerID) {
		t.Fatalf("Expected customer %d in resolvido after second drag", customerID)
	}

	t.Logf("✓ Two drags walked the board em_risco → tratamento → resolvido")
}

func TestDragStraightToPerdido_TwoStep(t *testing.T) {
	/*
	   SCENARIO: Operator drags an untreated card directly from em_risco
	   into perdido.

	   EXPECTED BEHAVIOR:
	   - The controller decomposes the drag into start-treatment plus
	     set-status(perdido) and applies both
	*/
	config := getTestConfig()
	const customerID = 910004

	upsertSnapshot(t, config, criticalSnapshot(customerID, "Integração Perdida EPP"))

	resp, body := doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: customerID, From: "em_risco", To: "perdido"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Drag to perdido failed: status %d: %s", resp.StatusCode, string(body))
	}

	board := getBoard(t, config)
	if !findCard(board, "perdido", customerID) {
		t.Fatalf("Expected customer %d in perdido after direct drag", customerID)
	}

	t.Logf("✓ Direct drag to perdido applied both workflow steps")
}

func TestDragBackOntoEmRisco_Rejected(t *testing.T) {
	/*
	   SCENARIO: Operator tries to drag a treated card back onto em_risco.

	   EXPECTED BEHAVIOR: HTTP 422 - em_risco is a projection of the
	   scoring engine, never a drop target.
	*/
	config := getTestConfig()
	const customerID = 910005

	upsertSnapshot(t, config, criticalSnapshot(customerID, "Integração Retorno Ltda"))

	resp, _ := doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: customerID, From: "em_risco", To: "tratamento"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Setup drag failed: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: customerID, From: "tratamento", To: "em_risco"}, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for drag onto em_risco, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Drag back onto em_risco rejected: HTTP %d", resp.StatusCode)
}

func TestDragWithoutOperator_Rejected(t *testing.T) {
	/*
	   SCENARIO: POST /board/move without the X-Operator-ID header.

	   EXPECTED BEHAVIOR: HTTP 400 - mutations require an operator.
	*/
	config := getTestConfig()

	resp, _ := doJSON(t, config, "POST", "/board/move",
		MoveRequest{CustomerID: 910001, From: "em_risco", To: "tratamento"}, false)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing operator header, got %d", resp.StatusCode)
	}

	t.Logf("✓ Missing operator header rejected: HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 3: Treatment Workflow (Direct API)
// ============================================================================

func TestTreatmentLifecycle(t *testing.T) {
	/*
	   SCENARIO: Start a treatment via the workflow API, tag it, assign an
	   owner and resolve it.

	   EXPECTED BEHAVIOR:
	   - POST /customers/{id}/treatment returns 201 with the record
	   - A second POST returns 409 (already in treatment)
	   - Tags and owner updates are visible on GET /customers/{id}
	*/
	config := getTestConfig()
	const customerID = 910006
	path := fmt.Sprintf("/customers/%d", customerID)

	upsertSnapshot(t, config, criticalSnapshot(customerID, "Integração Fluxo Ltda"))

	resp, body := doJSON(t, config, "POST", path+"/treatment",
		map[string]any{"tags": []string{"negociacao", "visita_tecnica"}}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Start treatment failed: status %d: %s", resp.StatusCode, string(body))
	}

	resp, _ = doJSON(t, config, "POST", path+"/treatment", nil, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate treatment, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, config, "PUT", path+"/owner",
		map[string]any{"ownerId": "ana.retencao"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Set owner failed: status %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, config, "PUT", path+"/status",
		map[string]any{"status": "resolvido"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Set status failed: status %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, config, "GET", path, nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET customer failed: status %d", resp.StatusCode)
	}
	var view CustomerView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("Failed to unmarshal customer view: %v", err)
	}
	if view.Workflow == nil {
		t.Fatal("Expected workflow on customer view")
	}
	if view.Workflow.Status != "resolvido" {
		t.Errorf("Expected status resolvido, got %s", view.Workflow.Status)
	}
	if len(view.Workflow.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", view.Workflow.Tags)
	}

	t.Logf("✓ Treatment lifecycle complete: status=%s, tags=%v", view.Workflow.Status, view.Workflow.Tags)
}

func TestInvalidWorkflowStatus_Rejected(t *testing.T) {
	/*
	   SCENARIO: PUT an unknown status value.

	   EXPECTED BEHAVIOR: HTTP 422
	*/
	config := getTestConfig()
	const customerID = 910006 // Reuses the resolved customer from the lifecycle test

	resp, _ := doJSON(t, config, "PUT", fmt.Sprintf("/customers/%d/status", customerID),
		map[string]any{"status": "arquivado"}, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for invalid status, got %d", resp.StatusCode)
	}

	t.Logf("✓ Invalid status rejected: HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 4: Timeline
// ============================================================================

func TestTimelineReturnsDescendingEvents(t *testing.T) {
	/*
	   SCENARIO: Fetch the timeline of a customer with overdue and call
	   signals that fire synthesizer heuristics.

	   EXPECTED BEHAVIOR:
	   - HTTP 200 with at least one event
	   - Events sorted by occurredAt descending
	*/
	config := getTestConfig()
	const customerID = 910001 // Seeded by the first scenario

	resp, body := doJSON(t, config, "GET", fmt.Sprintf("/customers/%d/timeline", customerID), nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET timeline failed: status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		CustomerID int64 `json:"customerId"`
		Count      int   `json:"count"`
		Events     []struct {
			Type       string    `json:"type"`
			OccurredAt time.Time `json:"occurredAt"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("Failed to unmarshal timeline: %v (body: %s)", err, string(body))
	}

	if payload.Count == 0 || len(payload.Events) == 0 {
		t.Fatal("Expected at least one timeline event for a critical customer")
	}

	events := payload.Events
	for i := 1; i < len(events); i++ {
		if events[i].OccurredAt.After(events[i-1].OccurredAt) {
			t.Errorf("Timeline not descending at index %d", i)
		}
	}

	t.Logf("✓ Timeline returned %d events, newest first (%s)", len(events), events[0].Type)
}

// ============================================================================
// SCENARIO 5: Weights Round Trip
// ============================================================================

func TestWeightsSaveAndReadBack(t *testing.T) {
	/*
	   SCENARIO: Read the active weights, save a modified copy, read back.

	   EXPECTED BEHAVIOR:
	   - PUT /weights persists and activates the new configuration
	   - GET /weights reflects it immediately
	   - The original configuration is restored afterwards
	*/
	config := getTestConfig()

	type weightsPayload struct {
		Weights    map[string]any `json:"weights"`
		Thresholds map[string]any `json:"thresholds"`
	}

	resp, body := doJSON(t, config, "GET", "/weights", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /weights failed: status %d", resp.StatusCode)
	}
	var original weightsPayload
	if err := json.Unmarshal(body, &original); err != nil {
		t.Fatalf("Failed to unmarshal weights: %v", err)
	}
	defer func() {
		// Restore whatever was active before the test
		doJSON(t, config, "PUT", "/weights", original, true)
	}()

	modified := original
	modified.Weights = map[string]any{}
	for k, v := range original.Weights {
		modified.Weights[k] = v
	}
	modified.Weights["overdueInvoiceCap"] = 60

	resp, body = doJSON(t, config, "PUT", "/weights", modified, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /weights failed: status %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, config, "GET", "/weights", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /weights after save failed: status %d", resp.StatusCode)
	}
	var after weightsPayload
	if err := json.Unmarshal(body, &after); err != nil {
		t.Fatalf("Failed to unmarshal weights: %v", err)
	}
	if cap, ok := after.Weights["overdueInvoiceCap"].(float64); !ok || cap != 60 {
		t.Errorf("Expected overdueInvoiceCap 60 after save, got %v", after.Weights["overdueInvoiceCap"])
	}

	t.Logf("✓ Weights round trip: overdueInvoiceCap=%v", after.Weights["overdueInvoiceCap"])
}

func TestWeightsOutOfBounds_Rejected(t *testing.T) {
	/*
	   SCENARIO: Save a configuration with a negative increment.

	   EXPECTED BEHAVIOR: HTTP 422, active configuration unchanged.
	*/
	config := getTestConfig()

	payload := map[string]any{
		"weights": map[string]any{
			"callBurstBase":      25,
			"callBurstIncrement": -1,
			"overdueInvoiceCap":  30,
			"npsDetractorBonus":  30,
			"qualityCap":         25,
			"behavioralCap":      20,
		},
	}

	resp, _ := doJSON(t, config, "PUT", "/weights", payload, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for negative increment, got %d", resp.StatusCode)
	}

	t.Logf("✓ Out-of-bounds weights rejected: HTTP %d", resp.StatusCode)
}
