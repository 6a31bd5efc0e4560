package identity

import "errors"

// Sentinel errors for credential verification.
var (
	// ErrTokenExpired indicates that the credential has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates that the credential failed signature or
	// claim validation.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenRevoked indicates that the provider definitively reported
	// the credential as revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrProviderUnreachable indicates that the provider could not be
	// reached to verify the credential.
	ErrProviderUnreachable = errors.New("identity provider unreachable")
)
