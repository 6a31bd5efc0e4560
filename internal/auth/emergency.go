package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/store"
	"github.com/savlink/authgate/pkg/mail"
)

const (
	// recoveryTokenBytes sizes the one-time token sent by email.
	recoveryTokenBytes = 32

	// sessionTokenBytes sizes the issued session credential. It is
	// large enough to pass the bearer plausibility gate.
	sessionTokenBytes = 96
)

// SessionGrant is the credential issued when a recovery token is
// consumed.
type SessionGrant struct {
	Token     string        `json:"token"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// Emergency implements the out-of-band recovery flow: a one-time token
// delivered by email, exchanged exactly once for a short-lived session
// credential.
type Emergency struct {
	store  *store.Store
	mailer mail.Mailer
	cfg    *config.EmergencyConfig
	logger observability.Logger
}

// EmergencyOption configures the Emergency service.
type EmergencyOption func(*Emergency)

// WithEmergencyLogger sets the service logger.
func WithEmergencyLogger(logger observability.Logger) EmergencyOption {
	return func(e *Emergency) {
		e.logger = logger
	}
}

// NewEmergency creates the emergency access service.
func NewEmergency(s *store.Store, mailer mail.Mailer, cfg *config.EmergencyConfig, opts ...EmergencyOption) *Emergency {
	e := &Emergency{
		store:  s,
		mailer: mailer,
		cfg:    cfg,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Request initiates recovery for an email address. The response is
// uniform whether or not the account exists, so the endpoint cannot be
// used to enumerate users. Email delivery is best effort.
func (e *Emergency) Request(ctx context.Context, email string) error {
	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			GetMetrics().RecordEmergency("request_unknown")
			e.logger.Info("emergency request for unknown email")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	token, err := randomToken(recoveryTokenBytes)
	if err != nil {
		return fmt.Errorf("failed to generate recovery token: %w", err)
	}

	session := &store.EmergencySession{
		TokenHash: cache.HashKey(token),
		Email:     user.Email,
		Kind:      store.SessionKindRecovery,
		ExpiresAt: time.Now().Add(e.cfg.TokenTTL.Duration()),
	}
	if err := e.store.CreateEmergencySession(ctx, session); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	GetMetrics().RecordEmergency("request_issued")

	if e.mailer == nil {
		e.logger.Warn("no mail channel configured, recovery token unreachable")
		return nil
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Emergency access token",
		Body: fmt.Sprintf(
			"Your emergency access token is:\n\n%s\n\nIt expires in %d minutes and can be used once.",
			token, int(e.cfg.TokenTTL.Duration().Minutes()),
		),
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		// Delivery failure stays invisible to the caller.
		e.logger.Error("failed to send recovery email", observability.Error(err))
		GetMetrics().RecordEmergency("mail_failed")
	}

	return nil
}

// Verify consumes a recovery token and issues a session credential.
func (e *Emergency) Verify(ctx context.Context, email, token string) (*SessionGrant, error) {
	_, err := e.store.ConsumeRecoverySession(ctx, cache.HashKey(token), email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionExpired):
			GetMetrics().RecordEmergency("verify_expired")
			return nil, fmt.Errorf("%w: recovery token expired", ErrTokenExpired)
		case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionConsumed):
			GetMetrics().RecordEmergency("verify_rejected")
			return nil, fmt.Errorf("%w: recovery token rejected", ErrTokenInvalid)
		default:
			return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
		}
	}

	credential, err := randomToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session credential: %w", err)
	}

	ttl := e.cfg.SessionTTL.Duration()
	session := &store.EmergencySession{
		TokenHash: cache.HashKey(credential),
		Email:     email,
		Kind:      store.SessionKindSession,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := e.store.CreateEmergencySession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	GetMetrics().RecordEmergency("session_issued")
	e.logger.Info("emergency session issued",
		observability.Duration("ttl", ttl),
	)

	return &SessionGrant{Token: credential, ExpiresIn: ttl}, nil
}

// Authenticate resolves a bearer credential as an emergency session.
func (e *Emergency) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	session, err := e.store.GetActiveSession(ctx, cache.HashKey(credential), store.SessionKindSession)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionExpired):
			return nil, fmt.Errorf("%w: emergency session expired", ErrTokenExpired)
		case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionConsumed):
			return nil, fmt.Errorf("%w: no emergency session", ErrTokenInvalid)
		default:
			return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
		}
	}

	user, err := e.store.GetUserByEmail(ctx, session.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: emergency session user is gone", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	GetMetrics().RecordEmergency("session_used")

	return &Identity{
		UserID:        user.ID,
		Subject:       user.Subject,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.Name,
		Provider:      "emergency",
		Source:        SourceEmergency,
		ExpiresAt:     session.ExpiresAt,
	}, nil
}

// PurgeExpired removes emergency sessions whose lifetime has elapsed.
func (e *Emergency) PurgeExpired(ctx context.Context) (int64, error) {
	return e.store.PurgeExpiredSessions(ctx, time.Now())
}

// randomToken returns n random bytes base64url-encoded.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
