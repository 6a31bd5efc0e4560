package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Domain errors returned by store operations.
var (
	// ErrUserNotFound indicates that no user matches the query.
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionNotFound indicates that no emergency session matches the
	// token hash.
	ErrSessionNotFound = errors.New("emergency session not found")

	// ErrSessionExpired indicates that the emergency session exists but
	// its lifetime has elapsed.
	ErrSessionExpired = errors.New("emergency session expired")

	// ErrSessionConsumed indicates that the one-time token has already
	// been used.
	ErrSessionConsumed = errors.New("emergency session already consumed")

	// ErrDuplicateSession indicates a token hash collision on insert.
	ErrDuplicateSession = errors.New("emergency session already exists")
)

// Session kinds. A recovery session holds a one-time token sent by
// email; consuming it issues a session credential stored under the
// session kind.
const (
	SessionKindRecovery = "recovery"
	SessionKindSession  = "session"
)

// User is a provisioned gateway user. Subject is the provider-scoped
// identifier and the idempotency key for provisioning.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Subject  string `gorm:"uniqueIndex;not null" json:"subject"`
	Provider string `gorm:"not null" json:"provider"`

	Email         string `gorm:"index" json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// EmergencySession is a durable emergency access record. Only the
// SHA-256 hash of the token is stored; the plaintext leaves the gateway
// exactly once, by email or in the verify response.
type EmergencySession struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`
	Email     string `gorm:"index;not null" json:"email"`
	Kind      string `gorm:"not null" json:"kind"`

	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (s *EmergencySession) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// allModels lists every model covered by auto-migration.
func allModels() []any {
	return []any{
		&User{},
		&EmergencySession{},
	}
}
