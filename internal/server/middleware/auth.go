package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/savlink/authgate/internal/auth"
)

const bearerScheme = "Bearer"

// bearerCredential extracts the bearer credential from the
// Authorization header. A missing header yields an empty credential so
// the orchestrator can classify the absence; a header with any other
// scheme is a format error.
func bearerCredential(c *gin.Context) (string, error) {
	header := c.GetHeader(HeaderAuthorization)
	if header == "" {
		return "", nil
	}

	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", auth.ErrCredentialFormat
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", auth.ErrCredentialFormat
	}
	return credential, nil
}

// errorMessage maps an error code to a stable client-facing message.
// Pipeline errors wrap backend detail that must not reach clients.
func errorMessage(code string) string {
	switch code {
	case auth.CodeAuthMissing:
		return "authorization required"
	case auth.CodeAuthFormat:
		return "malformed credential"
	case auth.CodeAuthExpired:
		return "invalid or expired credential"
	case auth.CodeAuthInvalid:
		return "credential rejected"
	case auth.CodeRateLimited:
		return "too many requests"
	case auth.CodeProvisioningError:
		return "temporarily unable to resolve user"
	default:
		return "authentication failed"
	}
}

// reject writes the classified error envelope for a failed decision.
func reject(c *gin.Context, decision *auth.Decision) {
	if decision.RetryAfter > 0 {
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
	}

	status, code := auth.Classify(decision.Err)
	abortError(c, status, code, errorMessage(code))
}

// RequireAuth returns a middleware that authenticates every request
// through the orchestrator and rejects anything short of an
// established identity.
func RequireAuth(orchestrator *auth.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := bearerCredential(c)
		if err != nil {
			status, code := auth.Classify(err)
			abortError(c, status, code, errorMessage(code))
			return
		}

		decision := orchestrator.Authenticate(c.Request.Context(), credential, GetClientIP(c))
		if decision.State != auth.StateAuthenticated {
			reject(c, decision)
			return
		}

		attachIdentity(c, decision.Identity)
		c.Next()
	}
}

// OptionalAuth returns a middleware that authenticates when a usable
// credential is present and otherwise lets the request through
// anonymously. It never rejects.
func OptionalAuth(orchestrator *auth.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := bearerCredential(c)
		if err != nil {
			c.Next()
			return
		}

		decision := orchestrator.AuthenticateOptional(c.Request.Context(), credential, GetClientIP(c))
		if decision.State == auth.StateAuthenticated {
			attachIdentity(c, decision.Identity)
		}
		c.Next()
	}
}

// attachIdentity stores the identity in both the gin context and the
// request context so handlers and downstream services see it.
func attachIdentity(c *gin.Context, identity *auth.Identity) {
	c.Set(ContextKeyIdentity, identity)
	ctx := auth.ContextWithIdentity(c.Request.Context(), identity)
	c.Request = c.Request.WithContext(ctx)
}

// GetIdentity returns the identity attached by RequireAuth or
// OptionalAuth, or nil for anonymous requests.
func GetIdentity(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(ContextKeyIdentity); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return nil
}
