// Package worker provides async assessment processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/rules"
	"github.com/retentionlabs/kestrel/internal/scoring"
	"github.com/retentionlabs/kestrel/internal/weights"
)

// Worker recomputes risk assessments asynchronously when snapshots change.
// It caches fresh assessments and escalates customers entering the
// critical bucket.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	cache   domain.Cache
	weights *weights.Store
	engine  *rules.Engine

	assessmentTTL time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// snapshotBurstThreshold is the hourly update count above which the
// worker flags a customer's snapshot stream as anomalous.
const snapshotBurstThreshold = 20

// Config holds worker configuration.
type Config struct {
	// AssessmentTTL is how long recomputed assessments stay cached.
	AssessmentTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, ws *weights.Store, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		repo:          repo,
		cache:         cache,
		weights:       ws,
		engine:        engine,
		assessmentTTL: 5 * time.Minute,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to snapshot updates.
func (w *Worker) Start(cfg Config) error {
	if cfg.AssessmentTTL > 0 {
		w.assessmentTTL = cfg.AssessmentTTL
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicSnapshotUpdated, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("assessment worker started",
		"topic", domain.TopicSnapshotUpdated,
	)

	return nil
}

// SnapshotMessage is the payload published on snapshot updates.
type SnapshotMessage struct {
	CustomerID int64 `json:"customerId"`
}

// EscalationMessage is the payload published when a customer enters the
// critical bucket.
type EscalationMessage struct {
	CustomerID int64         `json:"customerId"`
	Score      int           `json:"score"`
	Bucket     domain.Bucket `json:"bucket"`
	FiredRules []string      `json:"firedRules,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var snapMsg SnapshotMessage
	if err := json.Unmarshal(msg.Payload, &snapMsg); err != nil {
		slog.Error("failed to parse snapshot message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	return w.processSnapshot(ctx, snapMsg.CustomerID)
}

// processSnapshot recomputes one customer's assessment.
func (w *Worker) processSnapshot(ctx context.Context, customerID int64) error {
	start := time.Now()

	snap, err := w.repo.GetSnapshot(ctx, customerID)
	if err != nil {
		slog.Error("failed to load snapshot",
			"customer_id", customerID,
			"error", err,
		)
		return err
	}

	// Previous cached assessment, used to detect bucket entry.
	var previous *domain.RiskAssessment
	if w.cache != nil {
		previous, _ = w.cache.GetAssessment(ctx, customerID)
	}

	// Windowed update counter. Upstream ETL normally pushes one snapshot
	// per customer per sync cycle; a burst means something is replaying.
	if w.cache != nil {
		key := fmt.Sprintf("snapshot_updates:%d", customerID)
		if n, err := w.cache.IncrementCounter(ctx, key, time.Hour); err == nil && n > snapshotBurstThreshold {
			slog.Warn("snapshot update burst",
				"customer_id", customerID,
				"updates_last_hour", n,
			)
		}
	}

	active := w.weights.Active()
	assessment := scoring.ComputeAssessment(snap, active.Weights, active.Thresholds)

	if w.cache != nil {
		if err := w.cache.SetAssessment(ctx, &assessment, w.assessmentTTL); err != nil {
			slog.Error("failed to cache assessment",
				"customer_id", customerID,
				"error", err,
			)
		}
	}

	// Operator-defined alert rules.
	var fired []string
	if w.engine != nil && w.engine.RulesCount() > 0 {
		for _, ev := range w.engine.EvaluateAll(ctx, snap) {
			fired = append(fired, ev.Type)
		}
	}

	// Escalate only on entry into the critical bucket.
	if assessment.Bucket == domain.BucketCritico && (previous == nil || previous.Bucket != domain.BucketCritico) {
		payload, _ := json.Marshal(EscalationMessage{
			CustomerID: customerID,
			Score:      assessment.Score,
			Bucket:     assessment.Bucket,
			FiredRules: fired,
		})
		if err := w.bus.Publish(ctx, domain.TopicAlertEscalated, payload); err != nil {
			slog.Error("failed to publish escalation",
				"customer_id", customerID,
				"error", err,
			)
		}
	}

	slog.Info("snapshot processed",
		"customer_id", customerID,
		"score", assessment.Score,
		"bucket", assessment.Bucket,
		"fired_rules", len(fired),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("assessment worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
