package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
)

func testLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := cache.New(&config.RedisConfig{
		Address:             mr.Addr(),
		ConnectTimeout:      config.Duration(time.Second),
		ReadTimeout:         config.Duration(time.Second),
		WriteTimeout:        config.Duration(time.Second),
		ReconnectInterval:   config.Duration(50 * time.Millisecond),
		HealthCheckInterval: config.Duration(time.Hour),
	})
	t.Cleanup(func() { _ = c.Close() })

	l := New(c, &config.RateLimitConfig{
		Enabled:     true,
		MaxAttempts: limit,
		Window:      config.Duration(window),
	})

	return l, mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := testLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Allow(ctx, "10.0.0.1")
		require.True(t, res.Allowed, "attempt %d should be allowed", i+1)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}
}

func TestDenyOverLimit(t *testing.T) {
	l, _ := testLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)

	res := l.Allow(ctx, "10.0.0.1")
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestDeniedAttemptsStillCount(t *testing.T) {
	l, _ := testLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.False(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.False(t, l.Allow(ctx, "10.0.0.1").Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.False(t, l.Allow(ctx, "10.0.0.1").Allowed)

	assert.True(t, l.Allow(ctx, "10.0.0.2").Allowed)
}

func TestWindowRollover(t *testing.T) {
	l, mr := testLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.False(t, l.Allow(ctx, "10.0.0.1").Allowed)

	// Expiring the counter key is equivalent to the window elapsing.
	mr.FastForward(2 * time.Minute)

	assert.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
}

func TestReset(t *testing.T) {
	l, _ := testLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.False(t, l.Allow(ctx, "10.0.0.1").Allowed)

	l.Reset(ctx, "10.0.0.1")

	assert.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
}

func TestDisabledLimiterAllowsAll(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.New(&config.RedisConfig{
		Address:             mr.Addr(),
		ConnectTimeout:      config.Duration(time.Second),
		ReadTimeout:         config.Duration(time.Second),
		WriteTimeout:        config.Duration(time.Second),
		ReconnectInterval:   config.Duration(50 * time.Millisecond),
		HealthCheckInterval: config.Duration(time.Hour),
	})
	t.Cleanup(func() { _ = c.Close() })

	l := New(c, &config.RateLimitConfig{Enabled: false, MaxAttempts: 1, Window: config.Duration(time.Minute)})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	}
}

func TestLocalFallbackWhenCacheDown(t *testing.T) {
	l, mr := testLimiter(t, 2, time.Minute)
	ctx := context.Background()

	mr.Close()
	// Force the cache client to notice the outage.
	require.False(t, l.cache.Ping(ctx))

	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)
	require.True(t, l.Allow(ctx, "10.0.0.1").Allowed)

	res := l.Allow(ctx, "10.0.0.1")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
