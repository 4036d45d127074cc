package domain

import (
	"time"
)

// RiskEvent is one entry in a customer's risk timeline. Persisted events
// come from the event store; synthetic events are derived live from the
// current snapshot and are never written back.
type RiskEvent struct {
	ID          string    `json:"id"`
	CustomerID  int64     `json:"customerId"`
	Type        string    `json:"type"`
	ImpactScore int       `json:"impactScore"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
	Synthetic   bool      `json:"synthetic"`
}

// Synthetic event types emitted by the timeline synthesizer.
const (
	EventOverdueInvoice = "fatura_em_atraso"
	EventCallBurst      = "chamados_recorrentes"
	EventNPSDetractor   = "nps_detrator"
	EventQualityIssue   = "qualidade_degradada"
	EventBehaviorShift  = "comportamento_alterado"
	EventCancellation   = "cancelamento_confirmado"
)

// DedupeKey identifies an event for display deduplication: only the first
// event of a given type on a given calendar day is shown.
func (e *RiskEvent) DedupeKey() string {
	return e.Type + "|" + e.OccurredAt.UTC().Format("2006-01-02")
}
