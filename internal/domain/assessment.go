package domain

import (
	"time"
)

// Bucket is the discrete risk tier derived from a numeric score.
type Bucket string

const (
	BucketOK      Bucket = "OK"
	BucketAlerta  Bucket = "ALERTA"
	BucketCritico Bucket = "CRITICO"
)

// MaxScore is the upper clamp of the total risk score.
const MaxScore = 500

// PillarBreakdown holds the integer contribution of each pillar to the
// total score, after rescaling to the configured caps. The UI renders
// these as "score out of cap" percentages, so they must match the
// timeline impact scores exactly.
type PillarBreakdown struct {
	Financial  int `json:"financial"`
	Support    int `json:"support"`
	NPS        int `json:"nps"`
	Quality    int `json:"quality"`
	Behavioral int `json:"behavioral"`
}

// Sum returns the unclamped pillar total.
func (p PillarBreakdown) Sum() int {
	return p.Financial + p.Support + p.NPS + p.Quality + p.Behavioral
}

// RiskAssessment is the derived scoring result for one customer.
// It is recomputed on demand and never persisted as a source of truth:
// identical (snapshot, weights, thresholds) inputs always yield an
// identical assessment.
type RiskAssessment struct {
	CustomerID int64           `json:"customerId"`
	Score      int             `json:"score"` // clamped to [0, MaxScore]
	Bucket     Bucket          `json:"bucket"`
	Pillars    PillarBreakdown `json:"pillars"`
	ComputedAt time.Time       `json:"computedAt"`
}

// AtRisk reports whether the bucket is ALERTA or CRITICO.
func (a *RiskAssessment) AtRisk() bool {
	return a.Bucket == BucketAlerta || a.Bucket == BucketCritico
}
