package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidWeights is returned when a proposed configuration falls
// outside its declared bounds. Validation happens before the config can
// become active, so readers never observe an invalid set.
var ErrInvalidWeights = errors.New("invalid score weights")

// ScoreWeights is the operator-editable weight set of the scoring engine.
// A single instance is active process-wide; replacement is atomic.
type ScoreWeights struct {
	// CallBurstBase is added when a customer reaches 2 calls in 30 days.
	CallBurstBase int `json:"callBurstBase" yaml:"callBurstBase"`

	// CallBurstIncrement is added per call beyond the second.
	CallBurstIncrement int `json:"callBurstIncrement" yaml:"callBurstIncrement"`

	// OverdueInvoiceCap is the maximum financial pillar contribution
	// (raw financial baseline is 30).
	OverdueInvoiceCap int `json:"overdueInvoiceCap" yaml:"overdueInvoiceCap"`

	// NPSDetractorBonus replaces the raw NPS pillar outright for
	// detractor-classified customers.
	NPSDetractorBonus int `json:"npsDetractorBonus" yaml:"npsDetractorBonus"`

	// QualityCap is the maximum quality pillar contribution (baseline 25).
	QualityCap int `json:"qualityCap" yaml:"qualityCap"`

	// BehavioralCap is the maximum behavioral pillar contribution (baseline 20).
	BehavioralCap int `json:"behavioralCap" yaml:"behavioralCap"`
}

// Weight bounds. Each weight has a default and an allowed inclusive range.
type weightBound struct {
	name string
	min  int
	max  int
}

var weightBounds = []weightBound{
	{"callBurstBase", 0, 100},
	{"callBurstIncrement", 0, 50},
	{"overdueInvoiceCap", 0, 150},
	{"npsDetractorBonus", 0, 100},
	{"qualityCap", 0, 100},
	{"behavioralCap", 0, 100},
}

// DefaultWeights returns the factory weight set.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		CallBurstBase:      25,
		CallBurstIncrement: 5,
		OverdueInvoiceCap:  30,
		NPSDetractorBonus:  30,
		QualityCap:         25,
		BehavioralCap:      20,
	}
}

// Validate checks every weight against its declared bounds.
func (w ScoreWeights) Validate() error {
	values := []int{
		w.CallBurstBase,
		w.CallBurstIncrement,
		w.OverdueInvoiceCap,
		w.NPSDetractorBonus,
		w.QualityCap,
		w.BehavioralCap,
	}
	for i, b := range weightBounds {
		if values[i] < b.min || values[i] > b.max {
			return fmt.Errorf("%w: %s=%d outside [%d, %d]", ErrInvalidWeights, b.name, values[i], b.min, b.max)
		}
	}
	return nil
}

// BucketThresholds maps a numeric score to a bucket: OK below Alert,
// ALERTA below Critical, CRITICO at or above it.
type BucketThresholds struct {
	Alert    int `json:"alert" yaml:"alert"`
	Critical int `json:"critical" yaml:"critical"`
}

// DefaultThresholds returns the factory bucket boundaries.
func DefaultThresholds() BucketThresholds {
	return BucketThresholds{Alert: 120, Critical: 250}
}

// Validate enforces monotonic boundaries (alert <= critical).
func (t BucketThresholds) Validate() error {
	if t.Alert < 0 || t.Critical < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidWeights)
	}
	if t.Alert > t.Critical {
		return fmt.Errorf("%w: alert threshold %d above critical %d", ErrInvalidWeights, t.Alert, t.Critical)
	}
	return nil
}
