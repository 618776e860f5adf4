// Package metrics provides Prometheus instrumentation for the
// collection pipeline: request counts, page and record throughput,
// quota waits, retries and reference-resolution outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts outbound API requests.
	// Labels: entity, status (ok/retryable/fatal)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_requests_total",
			Help: "Total number of outbound API requests",
		},
		[]string{"entity", "status"},
	)

	// RetriesTotal counts retried request attempts.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_retries_total",
			Help: "Total number of retried request attempts",
		},
		[]string{"entity"},
	)

	// PagesFetched counts completed pages per entity type.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"entity"},
	)

	// RecordsFetched counts collected records per entity type.
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_records_fetched_total",
			Help: "Total number of records fetched",
		},
		[]string{"entity"},
	)

	// QuotaWaitSeconds tracks time spent blocked on the quota governor.
	QuotaWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comet_quota_wait_seconds",
			Help:    "Time spent waiting for a quota slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	// TaskState reports the current state per entity task
	// (0=pending, 1=running, 2=completed, 3=failed).
	TaskState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "comet_task_state",
			Help: "Collection task state (0=pending 1=running 2=completed 3=failed)",
		},
		[]string{"entity"},
	)

	// UnresolvedReferences counts references whose target was never
	// collected in the current run.
	UnresolvedReferences = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comet_unresolved_references_total",
			Help: "Total number of dangling cross-entity references",
		},
	)

	// DocumentsEmitted counts documents handed to the sink.
	DocumentsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_documents_emitted_total",
			Help: "Total number of documents emitted to the sink",
		},
		[]string{"entity"},
	)
)
