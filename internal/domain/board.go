package domain

// Column identifies a board column. A card's column is a pure function of
// {bucket, workflow status}; the em_risco column represents the absence of
// a workflow record for an at-risk customer.
type Column string

const (
	ColumnEmRisco    Column = "em_risco"
	ColumnTratamento Column = "tratamento"
	ColumnResolvido  Column = "resolvido"
	ColumnPerdido    Column = "perdido"
)

// ValidColumn reports whether c names a board column.
func ValidColumn(c Column) bool {
	switch c {
	case ColumnEmRisco, ColumnTratamento, ColumnResolvido, ColumnPerdido:
		return true
	}
	return false
}

// Card is a transient view object: one customer on the board. Cards are
// rebuilt from {snapshot, assessment, workflow} on every render and are
// not independently addressable state.
type Card struct {
	CustomerID int64    `json:"customerId"`
	Name       string   `json:"name"`
	Plan       string   `json:"plan"`
	Score      int      `json:"score"`
	Bucket     Bucket   `json:"bucket"`
	Tags       []string `json:"tags,omitempty"`
	OwnerID    *string  `json:"ownerId,omitempty"`
	LTV        float64  `json:"ltv"`
}

// BoardColumn is one ordered column of cards.
type BoardColumn struct {
	ID    Column `json:"id"`
	Cards []Card `json:"cards"`
}

// Board is the full projection rendered by the dashboard.
type Board struct {
	Columns []BoardColumn `json:"columns"`
}

// ColumnOrder is the fixed left-to-right column layout.
var ColumnOrder = []Column{ColumnEmRisco, ColumnTratamento, ColumnResolvido, ColumnPerdido}
