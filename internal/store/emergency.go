package store

import (
	"context"
	"fmt"
	"time"
)

// CreateEmergencySession persists a new emergency session record.
func (s *Store) CreateEmergencySession(ctx context.Context, session *EmergencySession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("failed to create emergency session: %w", err)
	}
	return nil
}

// ConsumeRecoverySession atomically marks the recovery session with the
// given token hash and email as consumed and returns it. A token can be
// consumed exactly once; concurrent calls race on a single conditional
// update and only one wins.
func (s *Store) ConsumeRecoverySession(ctx context.Context, tokenHash, email string) (*EmergencySession, error) {
	now := time.Now()

	result := s.db.WithContext(ctx).
		Model(&EmergencySession{}).
		Where("token_hash = ? AND email = ? AND kind = ? AND consumed_at IS NULL AND expires_at > ?",
			tokenHash, email, SessionKindRecovery, now).
		Update("consumed_at", now)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to consume recovery session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return nil, s.classifySessionFailure(ctx, tokenHash, email)
	}

	var session EmergencySession
	if err := s.db.WithContext(ctx).
		Where("token_hash = ? AND email = ? AND kind = ?", tokenHash, email, SessionKindRecovery).
		First(&session).Error; err != nil {
		return nil, convertNotFoundError(err, ErrSessionNotFound)
	}

	return &session, nil
}

// GetActiveSession returns the unexpired, unconsumed session with the
// given token hash and kind.
func (s *Store) GetActiveSession(ctx context.Context, tokenHash, kind string) (*EmergencySession, error) {
	var session EmergencySession
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND kind = ?", tokenHash, kind).
		First(&session).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrSessionNotFound)
	}

	if session.ConsumedAt != nil {
		return nil, ErrSessionConsumed
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	return &session, nil
}

// PurgeExpiredSessions deletes sessions whose lifetime elapsed before
// cutoff and returns how many were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&EmergencySession{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// classifySessionFailure explains why a conditional consume matched no
// rows.
func (s *Store) classifySessionFailure(ctx context.Context, tokenHash, email string) error {
	var session EmergencySession
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND email = ? AND kind = ?", tokenHash, email, SessionKindRecovery).
		First(&session).Error
	if err != nil {
		return convertNotFoundError(err, ErrSessionNotFound)
	}

	if session.ConsumedAt != nil {
		return ErrSessionConsumed
	}
	return ErrSessionExpired
}
