package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/retentionlabs/kestrel/internal/bus"
	"github.com/retentionlabs/kestrel/internal/cache"
	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/repository"
	"github.com/retentionlabs/kestrel/internal/rules"
	"github.com/retentionlabs/kestrel/internal/weights"
)

// snapshotRepo fakes the snapshot slice of the repository.
type snapshotRepo struct {
	domain.Repository

	snapshots map[int64]*domain.CustomerSnapshot
}

func (r *snapshotRepo) GetSnapshot(ctx context.Context, customerID int64) (*domain.CustomerSnapshot, error) {
	snap, ok := r.snapshots[customerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return snap, nil
}

func (r *snapshotRepo) SaveWeights(ctx context.Context, w domain.ScoreWeights, t domain.BucketThresholds) error {
	return nil
}

func criticalSnapshot(id int64) *domain.CustomerSnapshot {
	return &domain.CustomerSnapshot{
		ID:            id,
		Name:          "Cliente Critico",
		Plan:          "fibra_500",
		DaysOverdue:   75,
		RawFinancial:  30,
		Calls30d:      40,
		NPSClass:      domain.NPSDetractor,
		RawQuality:    25,
		RawBehavioral: 20,
		UpdatedAt:     time.Now().UTC(),
	}
}

func healthySnapshot(id int64) *domain.CustomerSnapshot {
	return &domain.CustomerSnapshot{
		ID:        id,
		Name:      "Cliente Saudavel",
		Plan:      "fibra_300",
		NPSClass:  domain.NPSPromoter,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &snapshotRepo{
		snapshots: map[int64]*domain.CustomerSnapshot{
			1: criticalSnapshot(1),
			2: healthySnapshot(2),
		},
	}

	lru := cache.NewLRUCache(100)
	ws := weights.NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	err = engine.LoadRules([]*domain.AlertRule{
		{
			ID:         "overdue-60",
			Name:       "Atraso acima de 60 dias",
			Expression: "days_overdue > 60",
			EventType:  domain.EventOverdueInvoice,
			Impact:     30,
			Enabled:    true,
		},
	})
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, repo, lru, ws, engine)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("EscalatesOnCriticalEntry", func(t *testing.T) {
		w := NewWorker(eventBus, repo, lru, ws, engine)
		w.Start(Config{})
		defer w.Stop()

		var escalated atomic.Bool
		var escalationPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicAlertEscalated, func(ctx context.Context, msg *domain.Message) error {
			escalationPayload = msg.Payload
			escalated.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(SnapshotMessage{CustomerID: 1})
		if err := eventBus.Publish(context.Background(), domain.TopicSnapshotUpdated, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !escalated.Load() {
			t.Fatal("expected escalation for critical customer")
		}

		var esc EscalationMessage
		if err := json.Unmarshal(escalationPayload, &esc); err != nil {
			t.Fatalf("failed to parse escalation: %v", err)
		}
		if esc.CustomerID != 1 {
			t.Errorf("expected customer 1, got %d", esc.CustomerID)
		}
		if esc.Bucket != domain.BucketCritico {
			t.Errorf("expected bucket %s, got %s", domain.BucketCritico, esc.Bucket)
		}
		if len(esc.FiredRules) != 1 || esc.FiredRules[0] != domain.EventOverdueInvoice {
			t.Errorf("expected fired rule %s, got %v", domain.EventOverdueInvoice, esc.FiredRules)
		}

		// Assessment must be cached for the next board render.
		cached, err := lru.GetAssessment(context.Background(), 1)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if cached == nil {
			t.Fatal("expected assessment to be cached")
		}
		if cached.Bucket != domain.BucketCritico {
			t.Errorf("expected cached bucket %s, got %s", domain.BucketCritico, cached.Bucket)
		}
	})

	t.Run("NoEscalationWhenAlreadyCritical", func(t *testing.T) {
		w := NewWorker(eventBus, repo, lru, ws, engine)
		w.Start(Config{})
		defer w.Stop()

		var count atomic.Int32
		eventBus.Subscribe(context.Background(), domain.TopicAlertEscalated, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Customer 1 is already cached as critical from the previous run.
		payload, _ := json.Marshal(SnapshotMessage{CustomerID: 1})
		eventBus.Publish(context.Background(), domain.TopicSnapshotUpdated, payload)

		time.Sleep(100 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no escalation for already critical customer, got %d", count.Load())
		}
	})

	t.Run("HealthyCustomerNotEscalated", func(t *testing.T) {
		w := NewWorker(eventBus, repo, lru, ws, engine)
		w.Start(Config{})
		defer w.Stop()

		var count atomic.Int32
		eventBus.Subscribe(context.Background(), domain.TopicAlertEscalated, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(SnapshotMessage{CustomerID: 2})
		eventBus.Publish(context.Background(), domain.TopicSnapshotUpdated, payload)

		time.Sleep(100 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no escalation for healthy customer, got %d", count.Load())
		}

		cached, _ := lru.GetAssessment(context.Background(), 2)
		if cached == nil {
			t.Fatal("expected assessment to be cached")
		}
		if cached.Bucket != domain.BucketOK {
			t.Errorf("expected cached bucket %s, got %s", domain.BucketOK, cached.Bucket)
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		w := NewWorker(eventBus, repo, lru, ws, engine)
		w.Start(Config{})
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(SnapshotMessage{CustomerID: 9999})
		if err := eventBus.Publish(context.Background(), domain.TopicSnapshotUpdated, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Worker logs and drops the message; nothing to assert beyond no panic.
		time.Sleep(100 * time.Millisecond)
	})
}
