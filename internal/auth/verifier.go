package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/identity"
	"github.com/savlink/authgate/internal/observability"
)

const tokenKeyPrefix = "auth:token:"

// Verifier memoizes credential verification in the cache. A cache hit
// skips the provider entirely; a miss verifies against the provider,
// runs the best-effort revocation check, and caches the claims for the
// smaller of the remaining credential lifetime and the configured cap.
type Verifier struct {
	provider identity.Provider
	cache    *cache.Client
	cfg      *config.AuthConfig
	logger   observability.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the verifier logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// NewVerifier creates a cache-memoized credential verifier.
func NewVerifier(provider identity.Provider, c *cache.Client, cfg *config.AuthConfig, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		provider: provider,
		cache:    c,
		cfg:      cfg,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Plausible reports whether the credential meets the minimum length.
// Shorter strings cannot be real credentials and are rejected without
// any cache or network call.
func (v *Verifier) Plausible(credential string) bool {
	return len(credential) >= v.cfg.MinCredentialLength
}

// Verify validates a credential and reports whether the result came
// from cache.
func (v *Verifier) Verify(ctx context.Context, credential string) (*identity.Claims, bool, error) {
	if credential == "" {
		return nil, false, ErrCredentialMissing
	}
	if !v.Plausible(credential) {
		return nil, false, fmt.Errorf("%w: credential shorter than %d bytes",
			ErrTokenInvalid, v.cfg.MinCredentialLength)
	}

	key := tokenKeyPrefix + cache.HashKey(credential)

	if claims, ok := v.fromCache(ctx, key); ok {
		GetMetrics().RecordVerification("cache_hit")
		return claims, true, nil
	}

	claims, err := v.provider.Verify(ctx, credential)
	if err != nil {
		return nil, false, v.classifyProviderError(err)
	}

	// Revocation is checked only on fresh verifications; a transient
	// provider failure inside the check accepts the credential.
	if err := v.provider.CheckRevocation(ctx, credential); err != nil {
		v.cache.Delete(ctx, key)
		GetMetrics().RecordVerification("revoked")
		return nil, false, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	}

	v.memoize(ctx, key, claims)
	GetMetrics().RecordVerification("verified")

	return claims, false, nil
}

// Evict removes a credential's cached verification.
func (v *Verifier) Evict(ctx context.Context, credential string) {
	v.cache.Delete(ctx, tokenKeyPrefix+cache.HashKey(credential))
}

// fromCache loads cached claims, evicting entries whose credential
// lifetime ran out between caching and now.
func (v *Verifier) fromCache(ctx context.Context, key string) (*identity.Claims, bool) {
	raw, ok := v.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var claims identity.Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		v.logger.Warn("dropping undecodable token cache entry", observability.Error(err))
		v.cache.Delete(ctx, key)
		return nil, false
	}

	if claims.RemainingLifetime() == 0 {
		v.cache.Delete(ctx, key)
		return nil, false
	}

	return &claims, true
}

// memoize caches verified claims bounded by the remaining credential
// lifetime and the configured cap.
func (v *Verifier) memoize(ctx context.Context, key string, claims *identity.Claims) {
	ttl := claims.RemainingLifetime()
	if ttl == 0 {
		return
	}
	if limit := v.cfg.TokenCacheTTL.Duration(); limit > 0 && ttl > limit {
		ttl = limit
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		v.logger.Warn("failed to encode claims for cache", observability.Error(err))
		return
	}

	v.cache.Set(ctx, key, raw, ttl)
}

// classifyProviderError maps identity errors onto the pipeline's
// sentinel kinds.
func (v *Verifier) classifyProviderError(err error) error {
	switch {
	case errors.Is(err, identity.ErrTokenExpired):
		GetMetrics().RecordVerification("expired")
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, identity.ErrTokenRevoked):
		GetMetrics().RecordVerification("revoked")
		return fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	case errors.Is(err, identity.ErrProviderUnreachable):
		GetMetrics().RecordVerification("unreachable")
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	default:
		GetMetrics().RecordVerification("invalid")
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
