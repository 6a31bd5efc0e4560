package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/savlink/authgate/internal/auth"
	"github.com/savlink/authgate/internal/observability"
)

// Recovery returns a middleware that recovers from handler panics and
// answers with the generic error envelope.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				fields := []observability.Field{
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("client_ip", GetClientIP(c)),
				}
				if requestID := GetRequestID(c); requestID != "" {
					fields = append(fields, observability.String("request_id", requestID))
				}
				fields = append(fields, observability.Any("stack", string(debug.Stack())))

				logger.Error("panic recovered", fields...)

				abortError(c, http.StatusInternalServerError,
					auth.CodeAuthError, "internal server error")
			}
		}()

		c.Next()
	}
}
