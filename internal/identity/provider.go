// Package identity verifies bearer credentials against an upstream
// identity provider. Signature and claim validation is authoritative;
// the revocation check is a separate best-effort call so that a slow or
// failing provider endpoint cannot take down the auth path.
package identity

import (
	"context"
	"time"
)

// Claims is the verified identity carried by a credential.
type Claims struct {
	// Subject is the provider-scoped stable user identifier.
	Subject string `json:"sub"`

	// Email is the user's email address, if the credential carries one.
	Email string `json:"email,omitempty"`

	// EmailVerified indicates whether the provider verified the email.
	EmailVerified bool `json:"email_verified,omitempty"`

	// Name is the user's display name.
	Name string `json:"name,omitempty"`

	// Provider names the verifying provider.
	Provider string `json:"provider"`

	// IssuedAt and ExpiresAt bound the credential lifetime.
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// RemainingLifetime returns how long the credential stays valid.
func (c *Claims) RemainingLifetime() time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}

	remaining := time.Until(c.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Provider verifies credentials issued by an identity provider.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Verify checks the credential signature and standard claims. It
	// returns ErrTokenExpired, ErrTokenInvalid, or
	// ErrProviderUnreachable on failure.
	Verify(ctx context.Context, credential string) (*Claims, error)

	// CheckRevocation asks the provider whether the credential has been
	// revoked since issuance. It returns ErrTokenRevoked only on a
	// definitive answer; transient failures are absorbed and the
	// credential is accepted.
	CheckRevocation(ctx context.Context, credential string) error

	// Close releases provider resources.
	Close() error
}
