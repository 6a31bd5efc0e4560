package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/savlink/authgate/internal/auth"
	"github.com/savlink/authgate/internal/ratelimit"
)

// RateLimit returns a middleware that gates the wrapped routes with the
// per-client fixed-window limiter. It is applied to the emergency
// endpoints, where there is no credential to fail fast on; the bearer
// path is gated inside the orchestrator instead. A nil limiter disables
// the gate.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result := limiter.Allow(c.Request.Context(), GetClientIP(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			abortError(c, http.StatusTooManyRequests,
				auth.CodeRateLimited, "too many requests")
			return
		}

		c.Next()
	}
}
