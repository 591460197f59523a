// Package metrics exposes the Prometheus instrumentation surface shared by
// the pager, buffer pool, B+Tree, WAL, catalog, and engine packages. Each
// Engine owns exactly one Metrics instance, registered against its own
// registry so multiple engines in one process (tests, benchmarks) never
// collide on collector registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram pagesql's components record.
type Metrics struct {
	Registry *prometheus.Registry

	PagesAllocated  prometheus.Counter
	BufferPoolHits  prometheus.Counter
	BufferPoolMiss  prometheus.Counter
	BufferPoolFlush prometheus.Counter
	BufferPoolEvict prometheus.Counter

	BTreeOps *prometheus.CounterVec // labels: op in {search,insert,delete}

	WALRecords *prometheus.CounterVec // labels: type in {begin,commit,insert,update,delete}

	EngineOps      *prometheus.CounterVec   // labels: kind, status
	EngineDuration *prometheus.HistogramVec // labels: kind
}

// New creates and registers a fresh Metrics set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PagesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesql_pages_allocated_total",
			Help: "Number of page ids allocated by the pager.",
		}),
		BufferPoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesql_buffer_pool_hits_total",
			Help: "Buffer pool gets that found the page already resident.",
		}),
		BufferPoolMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesql_buffer_pool_misses_total",
			Help: "Buffer pool gets that required a load from disk.",
		}),
		BufferPoolFlush: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesql_buffer_pool_flushes_total",
			Help: "Dirty frames written back by flush/flush_all.",
		}),
		BufferPoolEvict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagesql_buffer_pool_evictions_total",
			Help: "Frames evicted to make room for a miss.",
		}),
		BTreeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesql_btree_operations_total",
			Help: "B+Tree operations by kind.",
		}, []string{"op"}),
		WALRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesql_wal_records_total",
			Help: "WAL records appended by type.",
		}, []string{"type"}),
		EngineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesql_engine_operations_total",
			Help: "Statements executed by kind and outcome.",
		}, []string{"kind", "status"}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagesql_engine_operation_duration_seconds",
			Help:    "Statement execution latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.PagesAllocated, m.BufferPoolHits, m.BufferPoolMiss, m.BufferPoolFlush,
		m.BufferPoolEvict, m.BTreeOps, m.WALRecords, m.EngineOps, m.EngineDuration,
	)
	return m
}

// RecordEngineOp records one statement execution's outcome and latency.
func (m *Metrics) RecordEngineOp(kind, status string, seconds float64) {
	m.EngineOps.WithLabelValues(kind, status).Inc()
	m.EngineDuration.WithLabelValues(kind).Observe(seconds)
}
