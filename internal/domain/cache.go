package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (standalone) + Redis (clustered).
// All methods require orgID for strict per-organization isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, orgID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, orgID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, orgID string, key string) error

	// GetBounds retrieves a cached bounds snapshot for a tariff/fee type.
	GetBounds(ctx context.Context, orgID string, key string) (*BoundsSnapshot, error)

	// SetBounds caches a bounds snapshot for the preview UI.
	SetBounds(ctx context.Context, orgID string, key string, snap *BoundsSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for preview-request accounting.
	IncrementCounter(ctx context.Context, orgID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BoundsSnapshot is the cached result of a bounds estimation.
type BoundsSnapshot struct {
	TariffID    string `json:"tariffId"`
	FeeTypeID   string `json:"feeTypeId"`
	Min         string `json:"min"`
	Max         string `json:"max"`
	DisplayMode string `json:"displayMode,omitempty"`
	TreeVersion int    `json:"treeVersion,omitempty"`
	ComputedAt  string `json:"computedAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
