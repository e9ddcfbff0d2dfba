package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Keys are scoped by a namespace, normally the active bundle ID, so that
// results computed under one model never leak into another.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// GetScore retrieves a cached scoring result.
	GetScore(ctx context.Context, namespace string, inputHash string) (*ScoreResult, error)

	// SetScore caches a scoring result under the hash of its inputs.
	SetScore(ctx context.Context, namespace string, inputHash string, result *ScoreResult, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for enquiry velocity (applications per applicant in a window).
	IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"localmaxsize"`
	LocalTTL     time.Duration `json:"localTtl" mapstructure:"localttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" mapstructure:"redisaddr"`
	RedisPassword string `json:"-" mapstructure:"redispassword"`
	RedisDB       int    `json:"redisDb" mapstructure:"redisdb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enabletwophase"` // If true, check local first, then Redis
}
