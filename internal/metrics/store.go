package metrics

import "github.com/prometheus/client_golang/prometheus"

// Document store and synchronizer Prometheus metrics.
var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of vector searches",
		},
		[]string{"status"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	SyncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Total number of synchronization attempts by outcome",
		},
		[]string{"outcome"}, // "up_to_date" / "update_available" / "installed" / "error"
	)

	SnapshotChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_chunks",
			Help:      "Number of chunks in the active snapshot",
		},
	)

	SnapshotInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_info",
			Help:      "Active snapshot version, set to 1 for the installed version",
		},
		[]string{"version"},
	)
)

// SetActiveSnapshot records the snapshot that is currently serving reads.
func SetActiveSnapshot(version string, chunks int) {
	SnapshotInfo.Reset()
	SnapshotInfo.WithLabelValues(version).Set(1)
	SnapshotChunks.Set(float64(chunks))
}
