// Package cache provides the shared Redis client used by the
// authentication pipeline.
//
// The client degrades instead of failing: every operation returns a
// neutral default (absent, false, zero) when the store is unreachable,
// so callers never need error handling around cache access. When an
// operation fails the client marks itself unavailable and throttles
// reconnection attempts; a successful health probe flips it back.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/observability"
)

const cacheTracerName = "authgate/cache"

// incrWithTTLScript atomically increments a counter and sets its expiry
// on the first increment of a window.
// KEYS[1] = key, ARGV[1] = ttl in seconds.
var incrWithTTLScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Client is a pooled Redis client with transparent degrade-on-failure.
type Client struct {
	client    *redis.Client
	logger    observability.Logger
	keyPrefix string

	available         atomic.Bool
	lastReconnect     atomic.Int64 // unix nanos of the last reconnect attempt
	reconnectInterval time.Duration

	probeInterval time.Duration
	stopProbe     chan struct{}
	closeOnce     sync.Once
}

// Option is a functional option for the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates the cache client and performs an initial connectivity
// probe. A failed probe does not return an error: the client starts
// degraded and recovers once the store becomes reachable.
func New(cfg *config.RedisConfig, opts ...Option) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.ConnectTimeout.Duration(),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	})

	c := &Client{
		client:            rdb,
		logger:            observability.NopLogger(),
		keyPrefix:         resolveKeyPrefix(cfg.KeyPrefix),
		reconnectInterval: cfg.ReconnectInterval.Duration(),
		probeInterval:     cfg.HealthCheckInterval.Duration(),
		stopProbe:         make(chan struct{}),
	}
	if c.reconnectInterval <= 0 {
		c.reconnectInterval = 30 * time.Second
	}
	if c.probeInterval <= 0 {
		c.probeInterval = 30 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout.Duration())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("cache unreachable at startup, starting degraded",
			observability.String("address", cfg.Address),
			observability.Error(err))
	} else {
		c.available.Store(true)
		c.logger.Info("cache connected",
			observability.String("address", cfg.Address),
			observability.String("keyPrefix", c.keyPrefix))
	}

	go c.probeLoop()

	return c
}

// resolveKeyPrefix returns the key prefix, defaulting to "authgate:".
func resolveKeyPrefix(prefix string) string {
	if prefix == "" {
		return "authgate:"
	}
	return prefix
}

// Available reports whether the store was reachable at the last check.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Close stops the health probe and releases the connection pool.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopProbe)
	})
	return c.client.Close()
}

// probeLoop periodically pings the store so availability recovers even
// when no traffic is flowing.
func (c *Client) probeLoop() {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopProbe:
			return
		case <-ticker.C:
			c.probe()
		}
	}
}

// probe performs a single PING and updates availability.
func (c *Client) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.client.Ping(ctx).Err()
	was := c.available.Swap(err == nil)
	switch {
	case err == nil && !was:
		c.logger.Info("cache recovered")
	case err != nil && was:
		c.logger.Warn("cache health probe failed", observability.Error(err))
	}
}

// ensureConnected gates operations while the client is degraded. At
// most one reconnection probe runs per reconnect interval; all other
// calls short-circuit to the neutral default.
func (c *Client) ensureConnected(ctx context.Context) bool {
	if c.available.Load() {
		return true
	}

	now := time.Now().UnixNano()
	last := c.lastReconnect.Load()
	if now-last < c.reconnectInterval.Nanoseconds() {
		return false
	}
	if !c.lastReconnect.CompareAndSwap(last, now) {
		return false
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		GetMetrics().reconnectsTotal.WithLabelValues("failure").Inc()
		return false
	}

	c.available.Store(true)
	GetMetrics().reconnectsTotal.WithLabelValues("success").Inc()
	c.logger.Info("cache reconnected")
	return true
}

// markUnavailable records an operation failure and flips the client
// into degraded mode.
func (c *Client) markUnavailable(op string, err error) {
	GetMetrics().errorsTotal.WithLabelValues(op).Inc()
	if c.available.Swap(false) {
		c.logger.Warn("cache connection lost",
			observability.String("operation", op),
			observability.Error(err))
	}
}

func (c *Client) resolveKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value. It returns (nil, false) on a miss or while the
// store is unreachable.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := c.startSpan(ctx, "cache.Get", key)
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("get").Inc()
		return nil, false
	}

	val, err := c.client.Get(ctx, c.resolveKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			GetMetrics().missesTotal.Inc()
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, false
		}
		c.markUnavailable("get", err)
		return nil, false
	}

	GetMetrics().hitsTotal.Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, true
}

// GetWithTTL retrieves a value and its remaining TTL in a single
// pipelined round trip.
func (c *Client) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	ctx, span := c.startSpan(ctx, "cache.GetWithTTL", key)
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("get_with_ttl").Inc()
		return nil, 0, false
	}

	fullKey := c.resolveKey(key)

	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, fullKey)
	ttlCmd := pipe.TTL(ctx, fullKey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.markUnavailable("get_with_ttl", err)
		return nil, 0, false
	}

	val, err := getCmd.Bytes()
	if err != nil {
		GetMetrics().missesTotal.Inc()
		return nil, 0, false
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	GetMetrics().hitsTotal.Inc()
	return val, ttl, true
}

// Set stores a value with the given TTL. Failures are absorbed.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, span := c.startSpan(ctx, "cache.Set", key)
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("set").Inc()
		return
	}

	if err := c.client.Set(ctx, c.resolveKey(key), value, ttl).Err(); err != nil {
		c.markUnavailable("set", err)
	}
}

// Delete removes the given keys. Failures are absorbed.
func (c *Client) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	ctx, span := c.startSpan(ctx, "cache.Delete", keys[0])
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("delete").Inc()
		return
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.resolveKey(k)
	}

	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.markUnavailable("delete", err)
	}
}

// Exists reports whether the key exists; false while degraded.
func (c *Client) Exists(ctx context.Context, key string) bool {
	ctx, span := c.startSpan(ctx, "cache.Exists", key)
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("exists").Inc()
		return false
	}

	n, err := c.client.Exists(ctx, c.resolveKey(key)).Result()
	if err != nil {
		c.markUnavailable("exists", err)
		return false
	}
	return n > 0
}

// IncrWithTTL atomically increments the counter at key, setting its
// expiry when the counter is created. It returns the new value, or 0
// while the store is unreachable.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) int64 {
	ctx, span := c.startSpan(ctx, "cache.IncrWithTTL", key)
	defer span.End()

	if !c.ensureConnected(ctx) {
		GetMetrics().degradedTotal.WithLabelValues("incr").Inc()
		return 0
	}

	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	result, err := incrWithTTLScript.Run(ctx, c.client, []string{c.resolveKey(key)}, seconds).Result()
	if err != nil {
		c.markUnavailable("incr", err)
		return 0
	}

	n, ok := result.(int64)
	if !ok {
		c.logger.Error("incr script returned unexpected type",
			observability.String("key", key),
			observability.Any("result", result))
		return 0
	}
	return n
}

// Ping performs a connectivity check and updates availability. It is
// used by the health endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	err := c.client.Ping(ctx).Err()
	c.available.Store(err == nil)
	return err == nil
}

// startSpan begins an OTEL client span for a cache operation.
func (c *Client) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
}
