/*
Package metrics provides Prometheus metrics collection and exposition for
the storage core, plus a small health/readiness subsystem for the
operator CLI and any embedding process to probe.

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Polls a StatsProvider (implemented by the datastore) on an interval
  - Updates page-pool and row-count gauges without pkg/metrics importing
    pkg/datastore

Timer:
  - Convenience wrapper for timing an operation and recording it to a
    histogram or histogram vector

Health Checker:
  - In-memory component health registry (commitlog, blobstore, catalog,
    ...)
  - /health, /ready, /live HTTP handlers for operator tooling

# Metrics Catalog

Page pool:
  - veltadb_page_pool_reuse_total{table_id}: pages served from a pool's free list
  - veltadb_page_pool_alloc_total{table_id}: pages freshly allocated
  - veltadb_page_pool_return_total{table_id}: pages checked back in
  - veltadb_page_pool_drop_total{table_id}: pages dropped at capacity
  - veltadb_page_pool_free_pages{table_id}: current free-list depth

  The Collector sets free_pages from PoolStats. Nothing adds the pool's
  counts to the four *_total counters, so they stay at zero.

Commit log:
  - veltadb_commitlog_writes_total
  - veltadb_commitlog_write_bytes_total
  - veltadb_commitlog_write_duration_seconds
  - veltadb_commitlog_segment_rollovers_total
  - veltadb_commitlog_torn_tail_bytes_total

Blob store:
  - veltadb_blobstore_put_total
  - veltadb_blobstore_bytes

Snapshot:
  - veltadb_snapshot_create_duration_seconds
  - veltadb_snapshot_verify_duration_seconds
  - veltadb_snapshots_total{result}
  - veltadb_snapshot_objects_hardlinked_total

Datastore:
  - veltadb_tx_committed_total
  - veltadb_tx_rolled_back_total{reason}
  - veltadb_tx_duration_seconds{kind}
  - veltadb_rows_total{table_id}
  - veltadb_datastore_degraded

# Usage

	timer := metrics.NewTimer()
	// ... append to commit log ...
	timer.ObserveDuration(metrics.CommitLogWriteDuration)
	metrics.CommitLogWritesTotal.Inc()

	collector := metrics.NewCollector(datastore, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
