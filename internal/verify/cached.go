package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

// CachedVerifier wraps another verifier with result caching so a bulk
// scan performs at most one external lookup per identity per TTL
// window. Cache failures fall through to the inner verifier.
type CachedVerifier struct {
	inner domain.Verifier
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedVerifier wraps a verifier with the cache.
func NewCachedVerifier(inner domain.Verifier, cache domain.Cache, ttl time.Duration) *CachedVerifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedVerifier{inner: inner, cache: cache, ttl: ttl}
}

// Verify returns the cached result for the identity when present,
// otherwise consults the inner verifier and caches the outcome.
// Failed lookups are never cached.
func (v *CachedVerifier) Verify(ctx context.Context, identity *domain.NormalizedIdentity) (*domain.VerificationResult, error) {
	key := identity.NationalID
	if key == "" {
		return v.inner.Verify(ctx, identity)
	}

	cached, err := v.cache.GetVerification(ctx, key)
	if err != nil {
		slog.Warn("verification cache read failed", "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	result, err := v.inner.Verify(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := v.cache.SetVerification(ctx, key, result, v.ttl); err != nil {
		slog.Warn("verification cache write failed", "error", err)
	}
	return result, nil
}
