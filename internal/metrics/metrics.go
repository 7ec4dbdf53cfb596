// Package metrics holds the Prometheus instruments shared across the fan-out
// writer, maintenance services and the backup orchestrator.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SecondaryWriteFailures counts fan-out writes to a secondary store that
	// errored after the primary commit. Labels: store, operation.
	SecondaryWriteFailures *prometheus.CounterVec

	// WriteLatency records end-to-end fan-out write latency per operation.
	WriteLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// MaintenanceRunsTotal counts maintenance executions. Labels: operation, outcome.
	MaintenanceRunsTotal *prometheus.CounterVec

	// MaintenanceRecordsTotal counts records touched per maintenance operation.
	MaintenanceRecordsTotal *prometheus.CounterVec

	UndoOperationsTotal *prometheus.CounterVec

	// BackupDuration records wall time per backup, labeled by backup type.
	BackupDuration *prometheus.HistogramVec

	BackupSizeBytes *prometheus.GaugeVec
)

var initOnce sync.Once

// Init registers all instruments with the default registerer. Safe to call
// more than once; only the first call registers.
func Init() {
	initOnce.Do(initInner)
}

func initInner() {
	f := promauto.With(prometheus.DefaultRegisterer)

	SecondaryWriteFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_fabric_secondary_write_failures_total",
			Help: "Secondary store writes that failed after the primary commit",
		},
		[]string{"store", "operation"},
	)
	WriteLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_fabric_write_duration_seconds",
			Help:    "Fan-out write latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_fabric_cache_hits_total",
		Help: "Record cache hits",
	})
	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_fabric_cache_misses_total",
		Help: "Record cache misses",
	})
	MaintenanceRunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_fabric_maintenance_runs_total",
			Help: "Maintenance executions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	MaintenanceRecordsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_fabric_maintenance_records_total",
			Help: "Records deduplicated, summarized or expired",
		},
		[]string{"operation"},
	)
	UndoOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_fabric_undo_operations_total",
			Help: "Undo applications by operation type and outcome",
		},
		[]string{"operation", "outcome"},
	)
	BackupDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_fabric_backup_duration_seconds",
			Help:    "Backup wall time by backup type",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)
	BackupSizeBytes = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memory_fabric_backup_size_bytes",
			Help: "Total size of the most recent backup by backup type",
		},
		[]string{"type"},
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
