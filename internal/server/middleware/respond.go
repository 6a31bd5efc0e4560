// Package middleware provides gin middleware for the authentication
// gateway: request IDs, request logging, panic recovery, client IP
// resolution, rate limiting, and the authentication gate itself.
package middleware

import "github.com/gin-gonic/gin"

// Header names used by the middleware chain.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
	HeaderRetryAfter    = "Retry-After"
	HeaderAuthorization = "Authorization"
)

// Gin context keys set by the middleware chain.
const (
	ContextKeyRequestID = "requestID"
	ContextKeyClientIP  = "clientIP"
	ContextKeyIdentity  = "identity"
)

// abortError terminates the request with the gateway error envelope.
func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}
