package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Register registers all collectors with the default Prometheus registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
			SearchesTotal,
			SearchDuration,
			SyncAttemptsTotal,
			SnapshotChunks,
			SnapshotInfo,
			httpRequestDuration,
			httpRequestsTotal,
			AuthRejectionsTotal,
		)
	})
}
