package auth

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the authentication pipeline.
type Metrics struct {
	Verifications *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	Emergency     *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton auth metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authgate_auth_verifications_total",
				Help: "Total number of verifier outcomes by result",
			}, []string{"result"}),
			Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authgate_auth_decisions_total",
				Help: "Total number of orchestrator decisions by state and source",
			}, []string{"state", "source"}),
			Emergency: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authgate_auth_emergency_events_total",
				Help: "Total number of emergency access events by kind",
			}, []string{"event"}),
		}
	})
	return metricsInstance
}

// RecordVerification records a verifier outcome.
func (m *Metrics) RecordVerification(result string) {
	m.Verifications.WithLabelValues(result).Inc()
}

// RecordDecision records an orchestrator decision.
func (m *Metrics) RecordDecision(state, source string) {
	m.Decisions.WithLabelValues(state, source).Inc()
}

// RecordEmergency records an emergency access event.
func (m *Metrics) RecordEmergency(event string) {
	m.Emergency.WithLabelValues(event).Inc()
}
