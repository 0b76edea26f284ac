// Package metrics exposes Prometheus instrumentation for the citation core.
//
// All recorder methods are safe to call on a nil *Metrics, so components can be
// built without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kbcite"

// Outcome labels for remote embedding attempts.
const (
	OutcomeOK           = "ok"
	OutcomeStatus       = "bad_status"
	OutcomeTransport    = "transport_error"
	OutcomeUnrecognized = "unrecognized_shape"
)

// Metrics groups the collectors used across packages.
type Metrics struct {
	remoteAttempts *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cachePersists  *prometheus.CounterVec
	citations      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remoteAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "remote_attempts_total",
			Help:      "Remote embedding requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "fallbacks_total",
			Help:      "Embeddings served by a fallback strategy, by the strategy that answered.",
		}, []string{"strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
		cachePersists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "persists_total",
			Help:      "Embedding cache rewrites by result.",
		}, []string{"result"}),
		citations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "citations_returned",
			Help:      "Number of citations returned per lookup.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
		}, []string{"mode"}),
	}

	if reg != nil {
		reg.MustRegister(m.remoteAttempts, m.fallbacks, m.cacheLookups, m.cachePersists, m.citations)
	}
	return m
}

// RemoteAttempt records one request against a remote embedding endpoint.
func (m *Metrics) RemoteAttempt(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.remoteAttempts.WithLabelValues(endpoint, outcome).Inc()
}

// Fallback records that strategy produced a vector after an earlier strategy failed.
func (m *Metrics) Fallback(strategy string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(strategy).Inc()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CachePersist records the result of a full cache rewrite.
func (m *Metrics) CachePersist(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cachePersists.WithLabelValues(result).Inc()
}

// CitationsReturned observes the size of one citation result.
func (m *Metrics) CitationsReturned(mode string, n int) {
	if m == nil {
		return
	}
	m.citations.WithLabelValues(mode).Observe(float64(n))
}
