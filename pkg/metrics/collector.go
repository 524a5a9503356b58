package metrics

import "time"

// PoolStats mirrors pkg/page.Pool's counter snapshot; duplicated here
// (rather than importing pkg/page) so pkg/metrics stays a leaf package
// with no dependency on the storage core it instruments.
type PoolStats struct {
	TableID     string
	FreeCount   int
	ReuseCount  uint64
	AllocCount  uint64
	ReturnCount uint64
	DropCount   uint64
}

// StatsProvider is implemented by the datastore (or any caller holding
// live counters) and polled by Collector on an interval. Decoupling the
// collector from a concrete datastore type keeps pkg/metrics free of a
// dependency on pkg/datastore.
type StatsProvider interface {
	PagePoolStats() []PoolStats
	RowCounts() map[string]int
	Degraded() bool
}

// Collector periodically copies a StatsProvider's readings into the
// registered Prometheus gauges: free pages per pool, rows per table, and
// the degraded flag. The pool reuse/alloc/return/drop counts in PoolStats
// are not copied into the *_total counters.
type Collector struct {
	source   StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector that polls source every interval.
func NewCollector(source StatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{source: source, interval: interval, stopCh: make(chan struct{})}
}

// Start begins polling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, s := range c.source.PagePoolStats() {
		PagePoolFreeCount.WithLabelValues(s.TableID).Set(float64(s.FreeCount))
		PagePoolReuseTotal.WithLabelValues(s.TableID).Add(0) // ensure series exists even at zero
	}
	for tableID, count := range c.source.RowCounts() {
		RowsTotal.WithLabelValues(tableID).Set(float64(count))
	}
	if c.source.Degraded() {
		DatastoreDegraded.Set(1)
	} else {
		DatastoreDegraded.Set(0)
	}
}
