package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Page pool metrics
	PagePoolReuseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_page_pool_reuse_total",
			Help: "Total number of pages served from a pool's free list",
		},
		[]string{"table_id"},
	)

	PagePoolAllocTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_page_pool_alloc_total",
			Help: "Total number of pages freshly allocated because the pool's free list was empty",
		},
		[]string{"table_id"},
	)

	PagePoolReturnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_page_pool_return_total",
			Help: "Total number of pages checked back into a pool's free list",
		},
		[]string{"table_id"},
	)

	PagePoolDropTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_page_pool_drop_total",
			Help: "Total number of pages dropped on return because the pool was at capacity",
		},
		[]string{"table_id"},
	)

	PagePoolFreeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veltadb_page_pool_free_pages",
			Help: "Current number of pages held in a pool's free list",
		},
		[]string{"table_id"},
	)

	// Commit log metrics
	CommitLogWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_commitlog_writes_total",
			Help: "Total number of transactions appended to the commit log",
		},
	)

	CommitLogWriteBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_commitlog_write_bytes_total",
			Help: "Total bytes appended to the commit log, including frame overhead",
		},
	)

	CommitLogWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veltadb_commitlog_write_duration_seconds",
			Help:    "Time taken to append and fsync one transaction to the commit log",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitLogSegmentRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_commitlog_segment_rollovers_total",
			Help: "Total number of times the commit log rolled over to a new segment",
		},
	)

	CommitLogTornTailBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_commitlog_torn_tail_bytes_total",
			Help: "Total bytes discarded from torn segment tails on recovery",
		},
	)

	// Blob store metrics
	BlobStorePutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_blobstore_put_total",
			Help: "Total number of blobs written to the blob store",
		},
	)

	BlobStoreBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "veltadb_blobstore_bytes",
			Help: "Current total bytes held by the blob store",
		},
	)

	// Snapshot metrics
	SnapshotCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veltadb_snapshot_create_duration_seconds",
			Help:    "Time taken to create a snapshot",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	SnapshotVerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veltadb_snapshot_verify_duration_seconds",
			Help:    "Time taken to verify a snapshot's hashes against its manifest",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_snapshots_total",
			Help: "Total number of snapshot operations by outcome",
		},
		[]string{"result"},
	)

	SnapshotObjectsHardlinked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_snapshot_objects_hardlinked_total",
			Help: "Total number of directory-trie objects reused via hardlink instead of copied",
		},
	)

	// Datastore metrics
	TxCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veltadb_tx_committed_total",
			Help: "Total number of transactions committed",
		},
	)

	TxRolledBackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veltadb_tx_rolled_back_total",
			Help: "Total number of transactions rolled back, by reason",
		},
		[]string{"reason"},
	)

	TxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veltadb_tx_duration_seconds",
			Help:    "Transaction duration in seconds, from begin to commit or rollback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "read" | "write"
	)

	RowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veltadb_rows_total",
			Help: "Current number of committed rows, by table",
		},
		[]string{"table_id"},
	)

	DatastoreDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "veltadb_datastore_degraded",
			Help: "Whether the datastore is in read-only degraded mode (1) or normal (0)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PagePoolReuseTotal,
		PagePoolAllocTotal,
		PagePoolReturnTotal,
		PagePoolDropTotal,
		PagePoolFreeCount,
		CommitLogWritesTotal,
		CommitLogWriteBytesTotal,
		CommitLogWriteDuration,
		CommitLogSegmentRollovers,
		CommitLogTornTailBytes,
		BlobStorePutTotal,
		BlobStoreBytesTotal,
		SnapshotCreateDuration,
		SnapshotVerifyDuration,
		SnapshotsTotal,
		SnapshotObjectsHardlinked,
		TxCommittedTotal,
		TxRolledBackTotal,
		TxDuration,
		RowsTotal,
		DatastoreDegraded,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording the elapsed
// duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
