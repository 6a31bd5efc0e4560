package auth

import (
	"context"
	"time"
)

// Source tags how an identity was established.
type Source string

// Auth sources.
const (
	// SourceOIDC means the credential was verified against the provider
	// on this request.
	SourceOIDC Source = "oidc"

	// SourceOIDCCached means the verification was served from cache.
	SourceOIDCCached Source = "oidc_cached"

	// SourceEmergency means an emergency session credential was used.
	SourceEmergency Source = "emergency"

	// SourceAnonymous means no identity was established on an optional
	// route.
	SourceAnonymous Source = "anonymous"
)

// Identity is the resolved identity attached to an authenticated
// request. The same shape is used whether the user came from cache,
// fresh provisioning, or an emergency session.
type Identity struct {
	// UserID is the gateway's durable user id.
	UserID string `json:"user_id"`

	// Subject is the provider-scoped subject identifier.
	Subject string `json:"subject"`

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`

	// Provider names the verifying provider.
	Provider string `json:"provider,omitempty"`

	// Source tags the verification path taken.
	Source Source `json:"source"`

	// ExpiresAt is when the backing credential expires, if bounded.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsAnonymous reports whether no identity was established.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.Source == SourceAnonymous
}

type contextKey struct{}

var identityKey contextKey

// ContextWithIdentity attaches an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
