package domain

// AlertRule is an operator-defined condition over the customer snapshot,
// expressed in CEL. Fired rules contribute extra synthetic events to the
// timeline and alert notifications on the bus; they never change the
// weighted score.
type AlertRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over snapshot variables, e.g.
	// "days_overdue > 30 && monthly_amount > 300.0"
	Expression string `json:"expression"`

	// EventType is the timeline event type emitted when the rule fires.
	EventType string `json:"eventType"`

	// Impact is the displayed impact score of the emitted event.
	Impact int `json:"impact"`

	Enabled bool `json:"enabled"`
}
