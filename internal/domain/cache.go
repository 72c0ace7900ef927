package domain

import (
	"context"
	"time"
)

// Cache defines the caching boundary. It backs two engine concerns:
// external-verification result caching (one lookup per identity per
// scan window) and the distributed scan lease.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// SetNX stores a value only when the key is absent, returning
	// whether it was stored. Backs the at-most-one-active-scan lease.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// GetVerification retrieves a cached external-verification result.
	GetVerification(ctx context.Context, identityKey string) (*VerificationResult, error)

	// SetVerification caches an external-verification result.
	SetVerification(ctx context.Context, identityKey string, result *VerificationResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
