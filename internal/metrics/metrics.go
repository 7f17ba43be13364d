// Package metrics exposes Prometheus collectors for the sync engine.
//
// A Collector registers against the Registerer it is given, never the
// global default, so several hubs (and tests) can coexist in one process.
// All methods are safe on a nil *Collector and do nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "entsync"
	subsystem = "engine"
)

// Batch operations, used as the "op" label.
const (
	OpUpdate  = "update"
	OpUpgrade = "upgrade"
)

// Collector holds the engine's metrics.
type Collector struct {
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	batches       *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	adapterErrors *prometheus.CounterVec
	staleResults  *prometheus.CounterVec
	degradations  *prometheus.CounterVec
	exhausted     *prometheus.CounterVec
	records       *prometheus.GaugeVec
}

// New creates a Collector and registers it with reg.
// A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		passes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "passes_total",
				Help:      "Total number of reconciliation passes",
			},
			[]string{"connection"},
		),
		passDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pass_duration_seconds",
				Help:      "Time spent building batches in one reconciliation pass",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"connection"},
		),
		batches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batches_total",
				Help:      "Total number of batches sent to the host",
			},
			[]string{"connection", "kind", "op"},
		),
		batchSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_size",
				Help:      "Number of entries per batch sent to the host",
				Buckets:   []float64{1, 5, 10, 25, 50},
			},
			[]string{"connection", "kind", "op"},
		),
		adapterErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "adapter_errors_total",
				Help:      "Total number of rejected host adapter calls",
			},
			[]string{"connection", "kind", "op"},
		),
		staleResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stale_results_total",
				Help:      "Upgrade results dropped because the record was re-tracked, forgotten or the engine restarted",
			},
			[]string{"connection"},
		),
		degradations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "degradations_total",
				Help:      "Entities optimistically marked ready after a rejected upgrade",
			},
			[]string{"connection"},
		),
		exhausted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upgrades_exhausted_total",
				Help:      "Entities whose upgrade retries were abandoned",
			},
			[]string{"connection"},
		),
		records: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "records",
				Help:      "Tracked entities by synchronization state",
			},
			[]string{"connection", "state"},
		),
	}
}

// PassCompleted records one reconciliation pass.
func (c *Collector) PassCompleted(connection string, took time.Duration) {
	if c == nil {
		return
	}
	c.passes.WithLabelValues(connection).Inc()
	c.passDuration.WithLabelValues(connection).Observe(took.Seconds())
}

// BatchFlushed records a batch handed to the host adapter.
func (c *Collector) BatchFlushed(connection, kind, op string, size int) {
	if c == nil {
		return
	}
	c.batches.WithLabelValues(connection, kind, op).Inc()
	c.batchSize.WithLabelValues(connection, kind, op).Observe(float64(size))
}

// AdapterError records a rejected adapter call.
func (c *Collector) AdapterError(connection, kind, op string) {
	if c == nil {
		return
	}
	c.adapterErrors.WithLabelValues(connection, kind, op).Inc()
}

// StaleResult records a dropped upgrade result entry.
func (c *Collector) StaleResult(connection string) {
	if c == nil {
		return
	}
	c.staleResults.WithLabelValues(connection).Inc()
}

// Degraded records entities advanced to ready without an upgrade.
func (c *Collector) Degraded(connection string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.degradations.WithLabelValues(connection).Add(float64(n))
}

// Exhausted records an entity whose upgrade retries were abandoned.
func (c *Collector) Exhausted(connection string) {
	if c == nil {
		return
	}
	c.exhausted.WithLabelValues(connection).Inc()
}

// SetRecords publishes the number of records per state. States missing
// from counts are reset to zero.
func (c *Collector) SetRecords(connection string, states []string, counts map[string]int) {
	if c == nil {
		return
	}
	for _, s := range states {
		c.records.WithLabelValues(connection, s).Set(float64(counts[s]))
	}
}

// Forget drops every series of a connection.
func (c *Collector) Forget(connection string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"connection": connection}
	c.passes.DeletePartialMatch(labels)
	c.passDuration.DeletePartialMatch(labels)
	c.batches.DeletePartialMatch(labels)
	c.batchSize.DeletePartialMatch(labels)
	c.adapterErrors.DeletePartialMatch(labels)
	c.staleResults.DeletePartialMatch(labels)
	c.degradations.DeletePartialMatch(labels)
	c.exhausted.DeletePartialMatch(labels)
	c.records.DeletePartialMatch(labels)
}
