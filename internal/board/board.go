// Package board projects customers into status columns and orchestrates
// the workflow transitions implied by drag gestures.
package board

import (
	"sort"

	"github.com/retentionlabs/kestrel/internal/domain"
)

// statusColumn maps a workflow status to its board column.
func statusColumn(status domain.WorkflowStatus) domain.Column {
	switch status {
	case domain.StatusEmTratamento:
		return domain.ColumnTratamento
	case domain.StatusResolvido:
		return domain.ColumnResolvido
	case domain.StatusPerdido:
		return domain.ColumnPerdido
	}
	return ""
}

// columnStatus maps a destination column to the workflow status it
// implies. em_risco has no status: it is the absence of a record.
func columnStatus(col domain.Column) (domain.WorkflowStatus, bool) {
	switch col {
	case domain.ColumnTratamento:
		return domain.StatusEmTratamento, true
	case domain.ColumnResolvido:
		return domain.StatusResolvido, true
	case domain.ColumnPerdido:
		return domain.StatusPerdido, true
	}
	return "", false
}

// BuildBoard projects {snapshot, assessment, workflow} tuples into the
// four columns. A customer lands in em_risco only when at risk with no
// workflow record; OK-bucket customers with no record appear nowhere.
// Cards are ordered by descending score, customer id ascending on ties.
func BuildBoard(snapshots []*domain.CustomerSnapshot, assessments map[int64]*domain.RiskAssessment, workflows map[int64]*domain.WorkflowRecord) domain.Board {
	cards := make(map[domain.Column][]domain.Card)

	for _, snap := range snapshots {
		assessment := assessments[snap.ID]
		if assessment == nil {
			continue
		}

		var col domain.Column
		wf := workflows[snap.ID]
		if wf != nil {
			col = statusColumn(wf.Status)
		} else if assessment.AtRisk() {
			col = domain.ColumnEmRisco
		} else {
			continue
		}

		card := domain.Card{
			CustomerID: snap.ID,
			Name:       snap.Name,
			Plan:       snap.Plan,
			Score:      assessment.Score,
			Bucket:     assessment.Bucket,
			LTV:        snap.LTV,
		}
		if wf != nil {
			card.Tags = wf.Tags
			card.OwnerID = wf.OwnerID
		}
		cards[col] = append(cards[col], card)
	}

	board := domain.Board{Columns: make([]domain.BoardColumn, 0, len(domain.ColumnOrder))}
	for _, col := range domain.ColumnOrder {
		colCards := cards[col]
		sort.Slice(colCards, func(i, j int) bool {
			if colCards[i].Score != colCards[j].Score {
				return colCards[i].Score > colCards[j].Score
			}
			return colCards[i].CustomerID < colCards[j].CustomerID
		})
		board.Columns = append(board.Columns, domain.BoardColumn{ID: col, Cards: colCards})
	}
	return board
}
