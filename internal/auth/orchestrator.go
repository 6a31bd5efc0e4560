package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/ratelimit"
)

// State is a terminal decision state.
type State string

// Decision states.
const (
	// StateAuthenticated means an identity was established.
	StateAuthenticated State = "authenticated"

	// StateAnonymous means an optional route proceeds without identity.
	StateAnonymous State = "anonymous"

	// StateRejected means the request must not proceed and the client
	// has to fix its credential or back off.
	StateRejected State = "rejected"

	// StateUnavailable means the credential was fine but a backend
	// failed; the client should retry.
	StateUnavailable State = "unavailable"
)

// Decision is the orchestrator's terminal answer for one request.
type Decision struct {
	State    State
	Identity *Identity

	// Err carries the pipeline error for Rejected and Unavailable.
	Err error

	// RetryAfter is set when the rate limiter rejected the attempt.
	RetryAfter time.Duration
}

// Orchestrator runs the per-request authentication state machine:
// rate-limit gate, credential extraction, verification, resolution, and
// the emergency fallback.
type Orchestrator struct {
	verifier  *Verifier
	resolver  *Resolver
	emergency *Emergency
	limiter   *ratelimit.Limiter
	logger    observability.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(logger observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithEmergency enables the emergency access fallback.
func WithEmergency(emergency *Emergency) OrchestratorOption {
	return func(o *Orchestrator) {
		o.emergency = emergency
	}
}

// WithRateLimiter gates the pipeline behind a per-client rate limiter.
func WithRateLimiter(limiter *ratelimit.Limiter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.limiter = limiter
	}
}

// NewOrchestrator wires the authentication pipeline.
func NewOrchestrator(verifier *Verifier, resolver *Resolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		verifier: verifier,
		resolver: resolver,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Authenticate runs the full pipeline for a required-auth route. The
// clientKey identifies the caller for rate limiting, normally the
// resolved client IP.
func (o *Orchestrator) Authenticate(ctx context.Context, credential, clientKey string) *Decision {
	decision := o.run(ctx, credential, clientKey, true)
	o.record(decision)
	return decision
}

// AuthenticateOptional runs the pipeline for routes that serve both
// anonymous and identified callers. Every non-success collapses into
// an anonymous decision and the emergency fallback is never attempted.
func (o *Orchestrator) AuthenticateOptional(ctx context.Context, credential, clientKey string) *Decision {
	decision := o.run(ctx, credential, clientKey, false)
	if decision.State != StateAuthenticated {
		decision = &Decision{State: StateAnonymous}
	}
	o.record(decision)
	return decision
}

func (o *Orchestrator) run(ctx context.Context, credential, clientKey string, allowEmergency bool) (decision *Decision) {
	// The boundary catches anything unanticipated so a pipeline bug
	// yields a generic server error rather than an open gate.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("authentication pipeline panic",
				observability.Any("panic", r),
			)
			decision = &Decision{
				State: StateUnavailable,
				Err:   fmt.Errorf("internal authentication error"),
			}
		}
	}()

	// Missing and implausibly short credentials are settled before the
	// rate limiter so an anonymous caller never burns window budget.
	if credential == "" {
		return &Decision{State: StateRejected, Err: ErrCredentialMissing}
	}
	if !o.verifier.Plausible(credential) {
		return &Decision{
			State: StateRejected,
			Err:   fmt.Errorf("%w: credential below minimum length", ErrTokenInvalid),
		}
	}

	if o.limiter != nil && clientKey != "" {
		if res := o.limiter.Allow(ctx, clientKey); !res.Allowed {
			return &Decision{
				State:      StateRejected,
				Err:        ErrRateLimited,
				RetryAfter: res.RetryAfter,
			}
		}
	}

	claims, cached, err := o.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrCredentialMissing) || errors.Is(err, ErrCredentialFormat) {
			return &Decision{State: StateRejected, Err: err}
		}

		// The credential was rejected or could not be confirmed. A
		// valid emergency session may still authenticate the caller.
		// Once that attempt has also failed, the caller only learns
		// that the credential is invalid or expired, never which path
		// rejected it.
		if allowEmergency && o.emergency != nil {
			id, eerr := o.emergency.Authenticate(ctx, credential)
			if eerr == nil {
				return &Decision{State: StateAuthenticated, Identity: id}
			}
			return &Decision{
				State: StateRejected,
				Err:   fmt.Errorf("%w: credential rejected on all paths", ErrTokenExpired),
			}
		}

		return &Decision{State: StateRejected, Err: err}
	}

	user, _, err := o.resolver.Resolve(ctx, claims)
	if err != nil {
		// The credential itself was valid; never fall through to the
		// emergency path on a backend failure.
		return &Decision{State: StateUnavailable, Err: err}
	}

	source := SourceOIDC
	if cached {
		source = SourceOIDCCached
	}

	return &Decision{
		State: StateAuthenticated,
		Identity: &Identity{
			UserID:        user.ID,
			Subject:       user.Subject,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
			Name:          user.Name,
			Provider:      claims.Provider,
			Source:        source,
			ExpiresAt:     claims.ExpiresAt,
		},
	}
}

func (o *Orchestrator) record(decision *Decision) {
	source := SourceAnonymous
	if decision.Identity != nil {
		source = decision.Identity.Source
	}
	GetMetrics().RecordDecision(string(decision.State), string(source))
}
