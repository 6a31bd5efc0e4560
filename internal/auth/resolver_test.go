package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savlink/authgate/internal/store"
)

func TestResolveProvisionsUser(t *testing.T) {
	r := NewResolver(newTestStore(t), newTestCache(t), testAuthConfig())
	ctx := context.Background()

	user, cached, err := r.Resolve(ctx, defaultClaims())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "sub-1", user.Subject)
	assert.Equal(t, "user@example.com", user.Email)
}

func TestResolveUsesCache(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(s, newTestCache(t), testAuthConfig())
	ctx := context.Background()

	first, cached, err := r.Resolve(ctx, defaultClaims())
	require.NoError(t, err)
	require.False(t, cached)

	second, cached, err := r.Resolve(ctx, defaultClaims())
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveEvictUser(t *testing.T) {
	r := NewResolver(newTestStore(t), newTestCache(t), testAuthConfig())
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, defaultClaims())
	require.NoError(t, err)

	r.EvictUser(ctx, "sub-1")

	_, cached, err := r.Resolve(ctx, defaultClaims())
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestConcurrentProvisioningSingleRow(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(s, newTestCache(t), testAuthConfig())
	ctx := context.Background()

	const racers = 8

	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Resolve(ctx, defaultClaims())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, s.DB().Model(&store.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveStoreFailure(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(s, newTestCache(t), testAuthConfig())

	require.NoError(t, s.Close())

	_, _, err := r.Resolve(context.Background(), defaultClaims())
	assert.ErrorIs(t, err, ErrProvisioning)
}
