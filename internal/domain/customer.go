package domain

import (
	"time"
)

// CustomerSnapshot is the per-customer signal aggregate computed upstream
// (billing, ticketing and survey ETL). The core never mutates it.
type CustomerSnapshot struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Plan string `json:"plan"`

	// Billing signals
	MonthlyAmount float64    `json:"monthlyAmount"`
	DaysOverdue   int        `json:"daysOverdue"`
	LastPaymentAt *time.Time `json:"lastPaymentAt,omitempty"`

	// Raw pillar sub-scores as delivered by the upstream aggregation.
	// Baselines: financial 30, quality 25, behavioral 20.
	RawFinancial  int `json:"rawFinancial"`
	RawSupport    int `json:"rawSupport"`
	RawNPS        int `json:"rawNps"`
	RawQuality    int `json:"rawQuality"`
	RawBehavioral int `json:"rawBehavioral"`

	// Support-call aggregates
	Calls30d int `json:"calls30d"`
	Calls90d int `json:"calls90d"`

	// Latest satisfaction survey
	NPSScore int    `json:"npsScore"`
	NPSClass string `json:"npsClass"` // "promoter", "neutral", "detractor"

	// Lifetime value estimate
	LTV float64 `json:"ltv"`

	ChurnStatus string     `json:"churnStatus"` // "active", "at_risk", "cancelled"
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Churn status values.
const (
	ChurnActive    = "active"
	ChurnAtRisk    = "at_risk"
	ChurnCancelled = "cancelled"
)

// NPS classification values.
const (
	NPSPromoter  = "promoter"
	NPSNeutral   = "neutral"
	NPSDetractor = "detractor"
)

// Cancelled reports whether the customer has already churned.
// Cancelled customers are still scored (post-mortem cohort analysis).
func (s *CustomerSnapshot) Cancelled() bool {
	return s.ChurnStatus == ChurnCancelled
}
