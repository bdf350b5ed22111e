// Package observability holds the service's Prometheus metrics and the
// zap logger construction shared by the commands.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chat_gateway"

// Store names used as the "store" label
const (
	StoreSession   = "session"
	StoreAudit     = "audit"
	StoreKnowledge = "knowledge"
)

// Metrics groups every collector the pipeline records into. A nil
// *Metrics is valid and records nothing, which keeps tests free of
// registry setup.
type Metrics struct {
	// TurnsTotal counts processed turns by outcome (cache_hit, generated,
	// degraded, empty).
	TurnsTotal *prometheus.CounterVec

	// LookupDuration measures semantic lookups including the query
	// embedding. Labels: result (hit, miss, error).
	LookupDuration *prometheus.HistogramVec

	// GenerationDuration measures backend completions. Labels: status.
	GenerationDuration *prometheus.HistogramVec

	// StoreFailuresTotal counts best-effort write failures per store.
	// Divergence between session history and the audit log shows up here.
	StoreFailuresTotal *prometheus.CounterVec

	// SessionConflictsTotal counts optimistic write collisions that were
	// retried.
	SessionConflictsTotal prometheus.Counter

	// AuditDroppedTotal counts audit records dropped on a full queue.
	AuditDroppedTotal prometheus.Counter

	// KnowledgeEntries tracks the number of indexed knowledge entries.
	KnowledgeEntries prometheus.Gauge

	// KnowledgeLoadFailuresTotal counts loads that degraded to an empty
	// knowledge base.
	KnowledgeLoadFailuresTotal prometheus.Counter
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Processed chat turns by outcome.",
		}, []string{"outcome"}),
		LookupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "semantic",
			Name:      "lookup_duration_seconds",
			Help:      "Semantic cache lookup latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Generative backend latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"status"}),
		StoreFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Best-effort store write failures.",
		}, []string{"store"}),
		SessionConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "conflicts_total",
			Help:      "Optimistic session write conflicts that were retried.",
		}),
		AuditDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit records dropped because the queue was full.",
		}),
		KnowledgeEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "knowledge",
			Name:      "entries",
			Help:      "Entries currently indexed for semantic lookup.",
		}),
		KnowledgeLoadFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "knowledge",
			Name:      "load_failures_total",
			Help:      "Knowledge base loads that degraded to empty.",
		}),
	}
}

// ObserveTurn counts a finished turn
func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLookup records a semantic lookup
func (m *Metrics) ObserveLookup(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveGeneration records a backend call
func (m *Metrics) ObserveGeneration(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// StoreFailed counts a failed write against store
func (m *Metrics) StoreFailed(store string) {
	if m == nil {
		return
	}
	m.StoreFailuresTotal.WithLabelValues(store).Inc()
}

// SessionConflict counts a retried optimistic conflict
func (m *Metrics) SessionConflict() {
	if m == nil {
		return
	}
	m.SessionConflictsTotal.Inc()
}

// AuditDropped counts a dropped audit record
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.Inc()
}

// SetKnowledgeEntries sets the indexed entry gauge
func (m *Metrics) SetKnowledgeEntries(n int) {
	if m == nil {
		return
	}
	m.KnowledgeEntries.Set(float64(n))
}

// KnowledgeLoadFailed counts a degraded knowledge load
func (m *Metrics) KnowledgeLoadFailed() {
	if m == nil {
		return
	}
	m.KnowledgeLoadFailuresTotal.Inc()
}
