package domain

import (
	"context"
	"time"
)

// Cache defines the caching contract. Assessments are cached only for the
// duration of a render pass; the cache is never an alternative source of
// truth for workflow state.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// GetAssessment retrieves a cached risk assessment.
	GetAssessment(ctx context.Context, customerID int64) (*RiskAssessment, error)

	// SetAssessment caches a freshly computed risk assessment.
	SetAssessment(ctx context.Context, a *RiskAssessment, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for snapshot update velocity tracking.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     int `json:"localTtl" yaml:"localTtl"` // seconds

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// Two-phase settings: check local first, then Redis
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"`
}
