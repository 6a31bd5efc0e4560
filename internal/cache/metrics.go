package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for cache operations.
type Metrics struct {
	hitsTotal       prometheus.Counter
	missesTotal     prometheus.Counter
	errorsTotal     *prometheus.CounterVec
	degradedTotal   *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton cache metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		hitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_cache_hits_total",
			Help: "Total number of cache hits",
		}),
		missesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_cache_misses_total",
			Help: "Total number of cache misses",
		}),
		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_cache_errors_total",
			Help: "Total number of cache operation errors",
		}, []string{"operation"}),
		degradedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_cache_degraded_operations_total",
			Help: "Total number of operations answered with a neutral default while the cache was unavailable",
		}, []string{"operation"}),
		reconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_cache_reconnect_attempts_total",
			Help: "Total number of cache reconnection attempts",
		}, []string{"status"}),
	}
}
