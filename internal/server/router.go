package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savlink/authgate/internal/auth"
	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/ratelimit"
	"github.com/savlink/authgate/internal/server/middleware"
	"github.com/savlink/authgate/internal/store"
)

// ProviderReadiness is implemented by identity providers that can
// report whether their upstream is reachable.
type ProviderReadiness interface {
	Name() string
	Ready(ctx context.Context) error
}

// Handlers bundles the gateway endpoints and their dependencies.
type Handlers struct {
	orchestrator *auth.Orchestrator
	emergency    *auth.Emergency
	limiter      *ratelimit.Limiter
	cache        *cache.Client
	store        *store.Store
	provider     ProviderReadiness
	logger       observability.Logger
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handlers) { h.logger = logger }
}

// WithEmergency enables the emergency access endpoints.
func WithEmergency(emergency *auth.Emergency) HandlerOption {
	return func(h *Handlers) { h.emergency = emergency }
}

// WithRateLimiter gates the emergency endpoints with the given limiter.
func WithRateLimiter(limiter *ratelimit.Limiter) HandlerOption {
	return func(h *Handlers) { h.limiter = limiter }
}

// WithProviderReadiness includes the identity provider in the health
// report.
func WithProviderReadiness(provider ProviderReadiness) HandlerOption {
	return func(h *Handlers) { h.provider = provider }
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(
	orchestrator *auth.Orchestrator,
	c *cache.Client,
	s *store.Store,
	opts ...HandlerOption,
) *Handlers {
	h := &Handlers{
		orchestrator: orchestrator,
		cache:        c,
		store:        s,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts all gateway routes on the engine.
func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/healthz", h.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := engine.Group("/auth")
	authGroup.GET("/health", h.health)

	emergencyGroup := authGroup.Group("/emergency", middleware.RateLimit(h.limiter))
	emergencyGroup.POST("/request", h.emergencyRequest)
	emergencyGroup.POST("/verify", h.emergencyVerify)

	protected := authGroup.Group("", middleware.RequireAuth(h.orchestrator))
	protected.GET("/me", h.me)
	protected.GET("/session", h.session)
}
