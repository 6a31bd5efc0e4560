package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// UpsertUser creates or refreshes the user row keyed by subject and
// returns the canonical record. Concurrent calls for the same subject
// converge on a single row.
func (s *Store) UpsertUser(ctx context.Context, user *User) (*User, error) {
	now := time.Now()
	user.LastSeenAt = now

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "email_verified", "name", "last_seen_at", "updated_at",
			}),
		}).
		Create(user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// On conflict the insert keeps the existing row's identity, so read
	// the canonical record back.
	return s.GetUserBySubject(ctx, user.Subject)
}

// GetUserBySubject returns the user with the given provider subject.
func (s *Store) GetUserBySubject(ctx context.Context, subject string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("subject = ?", subject).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &user, nil
}

// GetUserByEmail returns the most recently seen user with the given
// email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		Order("last_seen_at DESC").
		First(&user).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &user, nil
}

// TouchUser updates the user's last seen timestamp.
func (s *Store) TouchUser(ctx context.Context, subject string) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("subject = ?", subject).
		Update("last_seen_at", time.Now())

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
