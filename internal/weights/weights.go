// Package weights owns the process-wide scoring configuration. A single
// Store validates, persists and atomically publishes the active weight
// set; concurrent readers never observe a partially-updated config.
package weights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/repository"
)

// Active is the immutable pair of weights and thresholds published as one
// unit. Replacing the whole value keeps readers internally consistent.
type Active struct {
	Weights    domain.ScoreWeights
	Thresholds domain.BucketThresholds
}

// Store holds the active scoring configuration.
type Store struct {
	repo   domain.Repository
	active atomic.Pointer[Active]
}

// NewStore creates a store seeded with defaults. Call Load to pick up a
// previously saved configuration.
func NewStore(repo domain.Repository, defaults domain.ScoreWeights, thresholds domain.BucketThresholds) *Store {
	s := &Store{repo: repo}
	s.active.Store(&Active{Weights: defaults, Thresholds: thresholds})
	return s
}

// Load replaces the active config with the persisted one, if any.
// A missing row is not an error: the seeded defaults stay active.
func (s *Store) Load(ctx context.Context) error {
	w, t, err := s.repo.LoadWeights(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Info("no saved score weights, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load score weights: %w", err)
	}

	if err := w.Validate(); err != nil {
		return fmt.Errorf("persisted weights rejected: %w", err)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("persisted thresholds rejected: %w", err)
	}

	s.active.Store(&Active{Weights: *w, Thresholds: *t})
	slog.Info("score weights loaded from repository")
	return nil
}

// Active returns the current configuration. The returned value is a
// consistent snapshot; callers must not retain it across save boundaries
// when they need the latest.
func (s *Store) Active() Active {
	return *s.active.Load()
}

// Save validates, persists and publishes a new configuration. The active
// pointer is swapped only after the repository write succeeds, so a
// persistence failure leaves the old config in force.
func (s *Store) Save(ctx context.Context, w domain.ScoreWeights, t domain.BucketThresholds) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if err := s.repo.SaveWeights(ctx, w, t); err != nil {
		return fmt.Errorf("failed to persist score weights: %w", err)
	}

	s.active.Store(&Active{Weights: w, Thresholds: t})
	slog.Info("score weights saved",
		"call_burst_base", w.CallBurstBase,
		"overdue_cap", w.OverdueInvoiceCap,
		"alert_threshold", t.Alert,
		"critical_threshold", t.Critical,
	)
	return nil
}
