package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the rate limiter.
type Metrics struct {
	Allowed  prometheus.Counter
	Denied   prometheus.Counter
	Fallback prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton rate limiter metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Allowed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "authgate_ratelimit_allowed_total",
				Help: "Total number of attempts allowed by the rate limiter",
			}),
			Denied: promauto.NewCounter(prometheus.CounterOpts{
				Name: "authgate_ratelimit_denied_total",
				Help: "Total number of attempts denied by the rate limiter",
			}),
			Fallback: promauto.NewCounter(prometheus.CounterOpts{
				Name: "authgate_ratelimit_fallback_total",
				Help: "Total number of checks served by the in-process fallback",
			}),
		}
	})
	return metricsInstance
}
