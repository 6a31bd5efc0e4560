package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/identity"
	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/store"
)

const userKeyPrefix = "auth:user:"

// Resolver turns verified claims into a provisioned user record. The
// first request for a subject creates the row; later requests refresh
// profile fields. Results are cached per subject.
type Resolver struct {
	store  *store.Store
	cache  *cache.Client
	cfg    *config.AuthConfig
	logger observability.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a user resolver backed by the durable store.
func NewResolver(s *store.Store, c *cache.Client, cfg *config.AuthConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  s,
		cache:  c,
		cfg:    cfg,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the user for the verified claims, provisioning it on
// first sight. The second return reports whether the record came from
// cache.
func (r *Resolver) Resolve(ctx context.Context, claims *identity.Claims) (*store.User, bool, error) {
	key := userKeyPrefix + claims.Subject

	if raw, ok := r.cache.Get(ctx, key); ok {
		var user store.User
		if err := json.Unmarshal(raw, &user); err == nil {
			return &user, true, nil
		}
		r.cache.Delete(ctx, key)
	}

	user, err := r.store.UpsertUser(ctx, &store.User{
		Subject:       claims.Subject,
		Provider:      claims.Provider,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	if raw, err := json.Marshal(user); err == nil {
		r.cache.Set(ctx, key, raw, r.cfg.UserCacheTTL.Duration())
	}

	return user, false, nil
}

// EvictUser drops the cached record for a subject.
func (r *Resolver) EvictUser(ctx context.Context, subject string) {
	r.cache.Delete(ctx, userKeyPrefix+subject)
}
