package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecoverySession(hash string, ttl time.Duration) *EmergencySession {
	return &EmergencySession{
		TokenHash: hash,
		Email:     "a@example.com",
		Kind:      SessionKindRecovery,
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestCreateEmergencySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := newRecoverySession("hash-1", 15*time.Minute)
	require.NoError(t, s.CreateEmergencySession(ctx, session))
	assert.NotEmpty(t, session.ID)

	assert.ErrorIs(t,
		s.CreateEmergencySession(ctx, newRecoverySession("hash-1", 15*time.Minute)),
		ErrDuplicateSession,
	)
}

func TestConsumeRecoverySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("hash-1", 15*time.Minute)))

	session, err := s.ConsumeRecoverySession(ctx, "hash-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", session.Email)
	require.NotNil(t, session.ConsumedAt)

	// Second consume fails.
	_, err = s.ConsumeRecoverySession(ctx, "hash-1", "a@example.com")
	assert.ErrorIs(t, err, ErrSessionConsumed)
}

func TestConsumeUnknownToken(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ConsumeRecoverySession(context.Background(), "nope", "a@example.com")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsumeWrongEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("hash-1", 15*time.Minute)))

	_, err := s.ConsumeRecoverySession(ctx, "hash-1", "other@example.com")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The token survives for its rightful owner.
	_, err = s.ConsumeRecoverySession(ctx, "hash-1", "a@example.com")
	assert.NoError(t, err)
}

func TestConsumeExpiredToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("hash-1", -time.Minute)))

	_, err := s.ConsumeRecoverySession(ctx, "hash-1", "a@example.com")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestConsumeIsSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("hash-1", 15*time.Minute)))

	const racers = 8

	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeRecoverySession(ctx, "hash-1", "a@example.com")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestGetActiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, &EmergencySession{
		TokenHash: "sess-1",
		Email:     "a@example.com",
		Kind:      SessionKindSession,
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	session, err := s.GetActiveSession(ctx, "sess-1", SessionKindSession)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", session.Email)

	_, err = s.GetActiveSession(ctx, "missing", SessionKindSession)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Kind mismatch is not found, not expired.
	_, err = s.GetActiveSession(ctx, "sess-1", SessionKindRecovery)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetActiveSessionExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, &EmergencySession{
		TokenHash: "sess-1",
		Email:     "a@example.com",
		Kind:      SessionKindSession,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := s.GetActiveSession(ctx, "sess-1", SessionKindSession)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestPurgeExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("old", -time.Hour)))
	require.NoError(t, s.CreateEmergencySession(ctx, newRecoverySession("fresh", time.Hour)))

	purged, err := s.PurgeExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.ConsumeRecoverySession(ctx, "fresh", "a@example.com")
	assert.NoError(t, err)
}
