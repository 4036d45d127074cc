// Package scoring computes bounded churn-risk assessments from customer
// snapshots and the active score weights.
package scoring

import (
	"math"
	"time"

	"github.com/retentionlabs/kestrel/internal/domain"
)

// Raw pillar baselines from the historical scoring model. A raw sub-score
// equal to its baseline maps to the full configured cap for that pillar.
const (
	FinancialBaseline  = 30.0
	QualityBaseline    = 25.0
	BehavioralBaseline = 20.0
)

// ComputeAssessment derives a risk assessment for one customer. It is
// pure and total: identical inputs always yield an identical result, and
// no well-formed snapshot makes it fail. Cancelled customers are scored
// like any other (post-mortem cohort analysis relies on this).
func ComputeAssessment(snap *domain.CustomerSnapshot, w domain.ScoreWeights, t domain.BucketThresholds) domain.RiskAssessment {
	pillars := ComputePillars(snap, w)

	score := pillars.Sum()
	if score < 0 {
		score = 0
	}
	if score > domain.MaxScore {
		score = domain.MaxScore
	}

	return domain.RiskAssessment{
		CustomerID: snap.ID,
		Score:      score,
		Bucket:     Classify(score, t),
		Pillars:    pillars,
		ComputedAt: time.Now().UTC(),
	}
}

// ComputePillars rescales the five raw pillar sub-scores to their
// configured caps. The timeline synthesizer reuses these exact values as
// impact scores so the displayed breakdown matches the total.
func ComputePillars(snap *domain.CustomerSnapshot, w domain.ScoreWeights) domain.PillarBreakdown {
	return domain.PillarBreakdown{
		Financial:  FinancialScore(snap.RawFinancial, w),
		Support:    SupportScore(snap.Calls30d, w),
		NPS:        NPSScore(snap.NPSClass, snap.RawNPS, w),
		Quality:    QualityScore(snap.RawQuality, w),
		Behavioral: BehavioralScore(snap.RawBehavioral, w),
	}
}

// FinancialScore rescales the overdue-invoice sub-score:
// round(raw/30 * overdueInvoiceCap).
func FinancialScore(raw int, w domain.ScoreWeights) int {
	return rescale(raw, FinancialBaseline, w.OverdueInvoiceCap)
}

// SupportScore maps the 30-day call count onto the call-burst weights:
// 0 below 2 calls, base at exactly 2 and base + increment per extra call
// beyond the second.
func SupportScore(calls30d int, w domain.ScoreWeights) int {
	switch {
	case calls30d < 2:
		return 0
	case calls30d == 2:
		return w.CallBurstBase
	default:
		return w.CallBurstBase + w.CallBurstIncrement*(calls30d-2)
	}
}

// NPSScore returns the detractor bonus outright for detractor-classified
// customers, overriding the raw pillar value; otherwise the raw value
// passes through unmodified.
func NPSScore(class string, raw int, w domain.ScoreWeights) int {
	if class == domain.NPSDetractor {
		return w.NPSDetractorBonus
	}
	return raw
}

// QualityScore rescales the service-quality sub-score: round(raw/25 * qualityCap).
func QualityScore(raw int, w domain.ScoreWeights) int {
	return rescale(raw, QualityBaseline, w.QualityCap)
}

// BehavioralScore rescales the behavioral sub-score: round(raw/20 * behavioralCap).
func BehavioralScore(raw int, w domain.ScoreWeights) int {
	return rescale(raw, BehavioralBaseline, w.BehavioralCap)
}

// Classify maps a score to its bucket: OK below the alert threshold,
// ALERTA below the critical threshold, CRITICO at or above it.
// Monotonic for valid (alert <= critical) thresholds.
func Classify(score int, t domain.BucketThresholds) domain.Bucket {
	switch {
	case score >= t.Critical:
		return domain.BucketCritico
	case score >= t.Alert:
		return domain.BucketAlerta
	default:
		return domain.BucketOK
	}
}

// rescale maps raw from its baseline onto the configured pillar cap,
// rounding half away from zero. Rounding is consistent across pillars
// because the UI derives percentages from these integers.
func rescale(raw int, baseline float64, pillarCap int) int {
	return int(math.Round(float64(raw) / baseline * float64(pillarCap)))
}
