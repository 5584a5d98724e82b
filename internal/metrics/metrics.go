// Package metrics exposes Prometheus counters for the annotation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts ledger, store and selector activity. A nil
// *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	registry *prometheus.Registry

	ledgerWritesTotal *prometheus.CounterVec
	ledgerClearsTotal *prometheus.CounterVec
	storeUpsertsTotal *prometheus.CounterVec
	selectionsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	permissionDenials *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewEngineMetrics creates and registers engine metrics.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.ledgerWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfish_ledger_writes_total",
			Help: "Annotation applications by outcome",
		},
		[]string{"scope_kind", "outcome"}, // outcome: written, unchanged, superseded
	)
	m.ledgerClearsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfish_ledger_clears_total",
			Help: "Annotation clears by result",
		},
		[]string{"scope_kind", "result"}, // result: ok, failed
	)
	m.storeUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfish_store_upserts_total",
			Help: "Markup and description writes",
		},
		[]string{"store", "target_kind", "scope_kind"},
	)
	m.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfish_selector_requests_total",
			Help: "Next-target selections by result",
		},
		[]string{"task_type", "mode", "result"}, // mode: single, pair; result: assigned, exhausted
	)
	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docfish_operation_duration_seconds",
			Help:    "Time taken by engine operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)
	m.permissionDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfish_permission_denials_total",
			Help: "Operations rejected by the permission gate",
		},
		[]string{"permission"},
	)
	m.collectors = []prometheus.Collector{
		m.ledgerWritesTotal,
		m.ledgerClearsTotal,
		m.storeUpsertsTotal,
		m.selectionsTotal,
		m.operationDuration,
		m.permissionDenials,
	}
}

// Describe implements the Collector interface
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered with.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *EngineMetrics) RecordApply(scopeKind, outcome string) {
	if m == nil {
		return
	}
	m.ledgerWritesTotal.WithLabelValues(scopeKind, outcome).Inc()
}

func (m *EngineMetrics) RecordClear(scopeKind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.ledgerClearsTotal.WithLabelValues(scopeKind, result).Inc()
}

func (m *EngineMetrics) RecordUpsert(store, targetKind, scopeKind string) {
	if m == nil {
		return
	}
	m.storeUpsertsTotal.WithLabelValues(store, targetKind, scopeKind).Inc()
}

func (m *EngineMetrics) RecordSelection(taskType, mode string, assigned bool) {
	if m == nil {
		return
	}
	result := "assigned"
	if !assigned {
		result = "exhausted"
	}
	m.selectionsTotal.WithLabelValues(taskType, mode, result).Inc()
}

func (m *EngineMetrics) RecordDenial(permission string) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(permission).Inc()
}

// ObserveSince records the time elapsed since start for operation.
func (m *EngineMetrics) ObserveSince(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
