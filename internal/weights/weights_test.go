package weights

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/repository"
)

// weightsRepo fakes only the weight persistence slice of the repository.
type weightsRepo struct {
	domain.Repository

	mu         sync.Mutex
	weights    *domain.ScoreWeights
	thresholds *domain.BucketThresholds
	saveErr    error
	loadErr    error
}

func (r *weightsRepo) LoadWeights(ctx context.Context) (*domain.ScoreWeights, *domain.BucketThresholds, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, nil, r.loadErr
	}
	if r.weights == nil {
		return nil, nil, repository.ErrNotFound
	}
	w := *r.weights
	t := *r.thresholds
	return &w, &t, nil
}

func (r *weightsRepo) SaveWeights(ctx context.Context, w domain.ScoreWeights, t domain.BucketThresholds) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.weights = &w
	r.thresholds = &t
	return nil
}

func TestStoreDefaults(t *testing.T) {
	store := NewStore(&weightsRepo{}, domain.DefaultWeights(), domain.DefaultThresholds())

	active := store.Active()
	if active.Weights.CallBurstBase != 25 {
		t.Errorf("expected default CallBurstBase 25, got %d", active.Weights.CallBurstBase)
	}
	if active.Thresholds.Alert != 120 || active.Thresholds.Critical != 250 {
		t.Errorf("unexpected default thresholds: %+v", active.Thresholds)
	}
}

func TestStoreLoad(t *testing.T) {
	t.Run("NoSavedConfigKeepsDefaults", func(t *testing.T) {
		store := NewStore(&weightsRepo{}, domain.DefaultWeights(), domain.DefaultThresholds())

		if err := store.Load(context.Background()); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if store.Active().Weights != domain.DefaultWeights() {
			t.Error("expected defaults to remain active")
		}
	})

	t.Run("SavedConfigReplacesDefaults", func(t *testing.T) {
		saved := domain.DefaultWeights()
		saved.OverdueInvoiceCap = 60
		repo := &weightsRepo{
			weights:    &saved,
			thresholds: &domain.BucketThresholds{Alert: 100, Critical: 200},
		}
		store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

		if err := store.Load(context.Background()); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		active := store.Active()
		if active.Weights.OverdueInvoiceCap != 60 {
			t.Errorf("expected loaded OverdueInvoiceCap 60, got %d", active.Weights.OverdueInvoiceCap)
		}
		if active.Thresholds.Alert != 100 {
			t.Errorf("expected loaded alert threshold 100, got %d", active.Thresholds.Alert)
		}
	})

	t.Run("CorruptPersistedConfigRejected", func(t *testing.T) {
		bad := domain.DefaultWeights()
		bad.CallBurstBase = 999
		repo := &weightsRepo{
			weights:    &bad,
			thresholds: &domain.BucketThresholds{Alert: 120, Critical: 250},
		}
		store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

		err := store.Load(context.Background())
		if !errors.Is(err, domain.ErrInvalidWeights) {
			t.Fatalf("expected ErrInvalidWeights, got %v", err)
		}
		if store.Active().Weights != domain.DefaultWeights() {
			t.Error("expected defaults to stay active after rejected load")
		}
	})

	t.Run("LoadError", func(t *testing.T) {
		repo := &weightsRepo{loadErr: errors.New("connection reset")}
		store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

		if err := store.Load(context.Background()); err == nil {
			t.Error("expected error from failing repository")
		}
	})
}

func TestStoreSave(t *testing.T) {
	t.Run("PersistsAndPublishes", func(t *testing.T) {
		repo := &weightsRepo{}
		store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

		w := domain.DefaultWeights()
		w.NPSDetractorBonus = 50
		th := domain.BucketThresholds{Alert: 150, Critical: 300}

		if err := store.Save(context.Background(), w, th); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if store.Active().Weights.NPSDetractorBonus != 50 {
			t.Error("expected saved weights to become active")
		}
		if repo.weights == nil || repo.weights.NPSDetractorBonus != 50 {
			t.Error("expected weights to be persisted")
		}
	})

	t.Run("RejectsOutOfBounds", func(t *testing.T) {
		store := NewStore(&weightsRepo{}, domain.DefaultWeights(), domain.DefaultThresholds())

		w := domain.DefaultWeights()
		w.CallBurstIncrement = -1

		err := store.Save(context.Background(), w, domain.DefaultThresholds())
		if !errors.Is(err, domain.ErrInvalidWeights) {
			t.Fatalf("expected ErrInvalidWeights, got %v", err)
		}
		if store.Active().Weights != domain.DefaultWeights() {
			t.Error("expected active config unchanged after rejected save")
		}
	})

	t.Run("RejectsInvertedThresholds", func(t *testing.T) {
		store := NewStore(&weightsRepo{}, domain.DefaultWeights(), domain.DefaultThresholds())

		err := store.Save(context.Background(), domain.DefaultWeights(), domain.BucketThresholds{Alert: 300, Critical: 120})
		if !errors.Is(err, domain.ErrInvalidWeights) {
			t.Fatalf("expected ErrInvalidWeights, got %v", err)
		}
	})

	t.Run("PersistenceFailureLeavesOldConfig", func(t *testing.T) {
		repo := &weightsRepo{saveErr: errors.New("disk full")}
		store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

		w := domain.DefaultWeights()
		w.QualityCap = 80

		if err := store.Save(context.Background(), w, domain.DefaultThresholds()); err == nil {
			t.Fatal("expected error from failing repository")
		}
		if store.Active().Weights.QualityCap != domain.DefaultWeights().QualityCap {
			t.Error("expected old config to remain active after failed save")
		}
	})
}

func TestStoreConcurrentReaders(t *testing.T) {
	repo := &weightsRepo{}
	store := NewStore(repo, domain.DefaultWeights(), domain.DefaultThresholds())

	// Writers flip between two valid configs; readers must always see a
	// self-consistent pair.
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			w := domain.DefaultWeights()
			th := domain.DefaultThresholds()
			if i%2 == 0 {
				w.OverdueInvoiceCap = 100
				th = domain.BucketThresholds{Alert: 200, Critical: 400}
			}
			_ = store.Save(context.Background(), w, th)
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				active := store.Active()
				switch active.Weights.OverdueInvoiceCap {
				case 30:
					if active.Thresholds.Alert != 120 {
						t.Error("torn read: default weights with non-default thresholds")
						return
					}
				case 100:
					if active.Thresholds.Alert != 200 {
						t.Error("torn read: updated weights with stale thresholds")
						return
					}
				default:
					t.Errorf("unexpected OverdueInvoiceCap %d", active.Weights.OverdueInvoiceCap)
					return
				}
			}
		}()
	}

	wg.Wait()
}
