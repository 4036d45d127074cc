// Package timeline merges persisted risk events with synthetic ones
// derived from the live snapshot. The result is recomputed fresh on each
// call and never written back.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/scoring"
)

// Synthesize builds a customer's risk timeline: persisted events first
// (deduplicated by type + calendar day, first occurrence wins), then one
// synthetic event per active risk condition, then fired alert-rule
// events. A synthetic event is suppressed when an event of the same
// (type, date) already exists. Ordering is descending by occurrence time.
func Synthesize(customerID int64, persisted []*domain.RiskEvent, snap *domain.CustomerSnapshot, w domain.ScoreWeights, ruleEvents []*domain.RiskEvent) []*domain.RiskEvent {
	seen := make(map[string]struct{})
	out := make([]*domain.RiskEvent, 0, len(persisted)+8)

	for _, ev := range persisted {
		key := ev.DedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}

	if snap != nil {
		for _, ev := range synthetic(customerID, snap, w) {
			key := ev.DedupeKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, ev)
		}
	}

	for _, ev := range ruleEvents {
		key := ev.DedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}

	// Descending by occurrence; persisted before synthetic on ties, then
	// by type for a deterministic render.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		if out[i].Synthetic != out[j].Synthetic {
			return !out[i].Synthetic
		}
		return out[i].Type < out[j].Type
	})

	return out
}

// synthetic derives one event per active risk condition. Impact scores
// use the exact pillar formulas from the scoring engine so the displayed
// contribution matches the score breakdown.
func synthetic(customerID int64, snap *domain.CustomerSnapshot, w domain.ScoreWeights) []*domain.RiskEvent {
	now := time.Now().UTC()
	var events []*domain.RiskEvent

	add := func(eventType string, impact int, description string, at time.Time) {
		events = append(events, &domain.RiskEvent{
			ID:          uuid.New().String(),
			CustomerID:  customerID,
			Type:        eventType,
			ImpactScore: impact,
			Description: description,
			OccurredAt:  at,
			Synthetic:   true,
		})
	}

	if fin := scoring.FinancialScore(snap.RawFinancial, w); fin > 0 {
		add(domain.EventOverdueInvoice, fin,
			fmt.Sprintf("Fatura em atraso há %d dias", snap.DaysOverdue), now)
	}

	if snap.Calls30d >= 2 {
		add(domain.EventCallBurst, scoring.SupportScore(snap.Calls30d, w),
			fmt.Sprintf("%d chamados nos últimos 30 dias", snap.Calls30d), now)
	}

	if snap.NPSClass == domain.NPSDetractor {
		add(domain.EventNPSDetractor, scoring.NPSScore(snap.NPSClass, snap.RawNPS, w),
			fmt.Sprintf("Última pesquisa NPS classificada como detrator (nota %d)", snap.NPSScore), now)
	}

	if q := scoring.QualityScore(snap.RawQuality, w); q > 0 {
		add(domain.EventQualityIssue, q, "Degradação de qualidade de serviço detectada", now)
	}

	if b := scoring.BehavioralScore(snap.RawBehavioral, w); b > 0 {
		add(domain.EventBehaviorShift, b, "Mudança de comportamento de uso detectada", now)
	}

	if snap.Cancelled() {
		at := now
		if snap.CancelledAt != nil {
			at = snap.CancelledAt.UTC()
		}
		add(domain.EventCancellation, 0, "Cancelamento confirmado", at)
	}

	return events
}
