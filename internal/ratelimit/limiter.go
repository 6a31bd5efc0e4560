// Package ratelimit implements fixed window rate limiting for
// authentication attempts. Counters live in Redis so limits hold across
// gateway replicas; when the cache is degraded the limiter falls back to
// an in-process token bucket per key rather than failing requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/observability"
)

const keyNamespace = "auth:ratelimit"

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces a fixed window limit on authentication attempts per
// client key. Every attempt is counted, including denied ones.
type Limiter struct {
	cache   *cache.Client
	limit   int
	window  time.Duration
	enabled bool
	logger  observability.Logger

	// Per-key token buckets used while the cache is unavailable.
	local sync.Map
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a fixed window limiter backed by the given cache client.
func New(c *cache.Client, cfg *config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{
		cache:   c,
		limit:   cfg.MaxAttempts,
		window:  cfg.Window.Duration(),
		enabled: cfg.Enabled,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow records an attempt for key and reports whether it is within the
// limit. A disabled limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) *Result {
	if !l.enabled || l.limit <= 0 {
		return &Result{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	if !l.cache.Available() {
		return l.allowLocal(key)
	}

	now := time.Now()
	windowStart := now.Truncate(l.window)
	windowKey := fmt.Sprintf("%s:%s:%d", keyNamespace, key, windowStart.Unix())

	// One second of slack so the counter outlives its window under
	// clock skew between replicas.
	count := l.cache.IncrWithTTL(ctx, windowKey, l.window+time.Second)
	if count == 0 {
		// The cache degraded mid-request.
		return l.allowLocal(key)
	}

	allowed := count <= int64(l.limit)

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
	}

	if !allowed {
		result.RetryAfter = windowStart.Add(l.window).Sub(now)
		GetMetrics().Denied.Inc()
		l.logger.Warn("rate limit exceeded",
			observability.String("key", key),
			observability.Int64("count", count),
			observability.Int("limit", l.limit),
		)
		return result
	}

	GetMetrics().Allowed.Inc()
	return result
}

// allowLocal enforces the limit with a per-key in-process token bucket.
// It is weaker than the distributed counter (each replica holds its own
// state) but keeps throttling effective during a cache outage.
func (l *Limiter) allowLocal(key string) *Result {
	GetMetrics().Fallback.Inc()

	interval := l.window / time.Duration(l.limit)
	v, _ := l.local.LoadOrStore(key, rate.NewLimiter(rate.Every(interval), l.limit))
	bucket := v.(*rate.Limiter)

	if bucket.Allow() {
		GetMetrics().Allowed.Inc()
		return &Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: int(bucket.Tokens()),
		}
	}

	GetMetrics().Denied.Inc()
	return &Result{
		Allowed:    false,
		Limit:      l.limit,
		RetryAfter: interval,
	}
}

// Reset clears the current window counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) {
	l.local.Delete(key)

	windowStart := time.Now().Truncate(l.window)
	windowKey := fmt.Sprintf("%s:%s:%d", keyNamespace, key, windowStart.Unix())
	l.cache.Delete(ctx, windowKey)
}
