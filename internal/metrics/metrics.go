// Package metrics holds the Prometheus instruments of the migration client and the reference stack server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "stackmig"
)

var (
	// RowsMigrated counts row-level changes applied to the destination.
	RowsMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_migrated_total",
			Help:      "Rows created, updated or deleted on the destination",
		},
		[]string{"type", "op"}, // op: create/update/delete
	)

	// Batches counts backup/restore and delete batches.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches applied to the destination",
		},
		[]string{"type", "kind", "status"}, // kind: restore/delete, status: success/error
	)

	// JobWait measures how long async jobs took to reach a terminal state.
	JobWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_wait_seconds",
			Help:      "Time spent polling async backup/restore jobs",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"}, // BACKUP/RESTORE
	)

	// ChecksumMismatches counts id ranges whose checksums differ after migration.
	ChecksumMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_mismatches_total",
			Help:      "Id ranges whose source and destination checksums differ",
		},
		[]string{"type"},
	)

	// TypeAttempts counts migration attempts per type and outcome.
	TypeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "type_attempts_total",
			Help:      "Migration attempts per type",
		},
		[]string{"type", "status"},
	)

	// ReplayBatches counts fire-change-message calls issued against the destination.
	ReplayBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_replayed_batches_total",
			Help:      "Fire-change-message calls issued against the destination",
		},
	)

	// RequestsTotal counts admin and row API requests served by the stack server.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_requests_total",
			Help:      "Requests served by the stack server",
		},
		[]string{"method", "code"},
	)

	// RequestDuration measures server request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_request_duration_seconds",
			Help:      "Stack server request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// JobsRunning tracks async jobs executing on the stack server.
	JobsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_jobs_running",
			Help:      "Async backup/restore jobs currently running",
		},
		[]string{"job"},
	)
)
