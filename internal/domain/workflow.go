package domain

import (
	"errors"
	"slices"
	"time"
)

// WorkflowStatus is the state of an operator-facing remediation workflow.
type WorkflowStatus string

const (
	StatusEmTratamento WorkflowStatus = "em_tratamento"
	StatusResolvido    WorkflowStatus = "resolvido"
	StatusPerdido      WorkflowStatus = "perdido"
)

// ValidStatus reports whether s is one of the three workflow statuses.
// Absence of a record is the fourth, implicit state and has no value here.
func ValidStatus(s WorkflowStatus) bool {
	switch s {
	case StatusEmTratamento, StatusResolvido, StatusPerdido:
		return true
	}
	return false
}

// Workflow operation errors surfaced to the operator.
var (
	// ErrNoWorkflow: setStatus/setTags/setOwner called for a customer
	// that was never placed into treatment.
	ErrNoWorkflow = errors.New("no workflow record for customer")

	// ErrAlreadyInTreatment: startTreatment called twice. Non-fatal;
	// callers that only need a record to exist treat it as success.
	ErrAlreadyInTreatment = errors.New("customer already in treatment")

	// ErrInvalidStatus: status string outside the three workflow states.
	ErrInvalidStatus = errors.New("invalid workflow status")
)

// WorkflowRecord tracks how an operator is handling one at-risk customer.
// At most one record exists per customer; it is created by startTreatment,
// mutated in place afterwards, and never deleted by the core.
type WorkflowRecord struct {
	CustomerID int64          `json:"customerId"`
	Status     WorkflowStatus `json:"status"`
	Tags       []string       `json:"tags"`
	OwnerID    *string        `json:"ownerId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NormalizeTags applies set semantics to a tag list: trims nothing,
// drops empties and duplicates, returns a sorted copy.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
