package identity

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for credential verification.
type Metrics struct {
	Verifications        *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	Introspections       *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton identity metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authgate_identity_verifications_total",
				Help: "Total number of credential verifications by result",
			}, []string{"result"}),
			VerificationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "authgate_identity_verification_duration_seconds",
				Help:    "Credential verification duration by result",
				Buckets: prometheus.DefBuckets,
			}, []string{"result"}),
			Introspections: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authgate_identity_introspections_total",
				Help: "Total number of revocation introspection calls by result",
			}, []string{"result"}),
		}
	})
	return metricsInstance
}

// RecordVerification records a verification attempt.
func (m *Metrics) RecordVerification(result string, duration time.Duration) {
	m.Verifications.WithLabelValues(result).Inc()
	m.VerificationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordIntrospection records a revocation check outcome.
func (m *Metrics) RecordIntrospection(result string) {
	m.Introspections.WithLabelValues(result).Inc()
}
