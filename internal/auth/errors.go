package auth

import (
	"errors"
	"net/http"
)

// Sentinel errors for the authentication pipeline. The orchestrator
// matches these with errors.Is to pick the terminal decision; anything
// unrecognized is reported as a generic server error.
var (
	// ErrCredentialMissing indicates that no credential was presented.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrCredentialFormat indicates that the authorization header does
	// not carry a bearer credential.
	ErrCredentialFormat = errors.New("credential malformed")

	// ErrTokenExpired indicates that the credential has expired.
	ErrTokenExpired = errors.New("credential expired")

	// ErrTokenInvalid indicates that verification rejected the
	// credential.
	ErrTokenInvalid = errors.New("credential invalid")

	// ErrTokenRevoked indicates that the provider reported the
	// credential as revoked.
	ErrTokenRevoked = errors.New("credential revoked")

	// ErrProviderUnavailable indicates that the identity provider could
	// not be reached; the credential is unconfirmed, not invalid, and
	// the outcome is never cached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrProvisioning indicates that the credential was valid but the
	// durable store failed. Clients should retry, not re-authenticate.
	ErrProvisioning = errors.New("user provisioning failed")

	// ErrRateLimited indicates too many authentication attempts.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Error codes exposed on the HTTP surface.
const (
	CodeAuthMissing       = "AUTH_MISSING"
	CodeAuthFormat        = "AUTH_FORMAT"
	CodeAuthInvalid       = "AUTH_INVALID"
	CodeAuthExpired       = "AUTH_EXPIRED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeProvisioningError = "PROVISIONING_ERROR"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeAuthError         = "AUTH_ERROR"
)

// Classify maps a pipeline error to its HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return http.StatusUnauthorized, CodeAuthMissing
	case errors.Is(err, ErrCredentialFormat):
		return http.StatusUnauthorized, CodeAuthFormat
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, CodeAuthExpired
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrProviderUnavailable):
		// Unreachable providers collapse into a verification failure
		// once the orchestrator has ruled out provisioning trouble.
		return http.StatusUnauthorized, CodeAuthInvalid
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, ErrProvisioning):
		return http.StatusServiceUnavailable, CodeProvisioningError
	default:
		return http.StatusInternalServerError, CodeAuthError
	}
}
