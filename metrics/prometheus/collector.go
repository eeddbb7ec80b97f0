// Package prometheus exports cache and download counters as Prometheus
// metrics. The collector reads Stats snapshots at scrape time, so nothing in
// the cache pays for metrics between scrapes.
package prometheus

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/download"
)

const namespace = "tiercache"

type Collector struct {
	mu        sync.RWMutex
	caches    map[string]func() tiercache.Stats
	downloads func() download.Stats

	requests    *prom.Desc
	memoryHits  *prom.Desc
	memoryAdds  *prom.Desc
	memoryLen   *prom.Desc
	memoryBytes *prom.Desc
	poolEvents  *prom.Desc
	poolIdle    *prom.Desc

	fetches  *prom.Desc
	failures *prom.Desc
	retries  *prom.Desc
	inFlight *prom.Desc
	tasks    *prom.Desc
	queued   *prom.Desc
	workers  *prom.Desc
	level    *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

func NewCollector() *Collector {
	cache := []string{"cache"}
	return &Collector{
		caches: make(map[string]func() tiercache.Stats),

		requests: prom.NewDesc(namespace+"_requests_total",
			"Lookups by the tier that answered them, or why none did.", []string{"cache", "tier"}, nil),
		memoryHits: prom.NewDesc(namespace+"_memory_lookups_total",
			"Memory tier lookups by outcome.", []string{"cache", "result"}, nil),
		memoryAdds: prom.NewDesc(namespace+"_memory_added_total",
			"Artifacts added to memory, by whether they skipped the strong tier.", []string{"cache", "size"}, nil),
		memoryLen: prom.NewDesc(namespace+"_memory_entries",
			"Entries held per memory level.", []string{"cache", "level"}, nil),
		memoryBytes: prom.NewDesc(namespace+"_memory_bytes",
			"Accounted bytes per memory level.", []string{"cache", "level"}, nil),
		poolEvents: prom.NewDesc(namespace+"_pool_buffers_total",
			"Pooled buffer lifecycle events.", []string{"cache", "event"}, nil),
		poolIdle: prom.NewDesc(namespace+"_pool_idle_buffers",
			"Idle buffers waiting for reuse.", cache, nil),

		fetches: prom.NewDesc(namespace+"_download_fetches_total",
			"Origin transfers started.", nil, nil),
		failures: prom.NewDesc(namespace+"_download_failures_total",
			"Downloads that failed after all attempts.", nil, nil),
		retries: prom.NewDesc(namespace+"_download_retries_total",
			"Failed attempts that were resubmitted.", nil, nil),
		inFlight: prom.NewDesc(namespace+"_download_in_flight",
			"Locators with waiting listeners.", nil, nil),
		tasks: prom.NewDesc(namespace+"_download_tasks_total",
			"Scheduler task events.", []string{"event"}, nil),
		queued: prom.NewDesc(namespace+"_download_queued",
			"Tasks waiting for a worker.", nil, nil),
		workers: prom.NewDesc(namespace+"_download_workers",
			"Live download workers.", nil, nil),
		level: prom.NewDesc(namespace+"_download_power_level",
			"Current power level: 0 economy, 1 normal, 2 speed.", nil, nil),
	}
}

// AddCache exports stats under the given cache label. Re-adding a name
// replaces its source.
func (c *Collector) AddCache(name string, stats func() tiercache.Stats) {
	c.mu.Lock()
	c.caches[name] = stats
	c.mu.Unlock()
}

func (c *Collector) SetDownloads(stats func() download.Stats) {
	c.mu.Lock()
	c.downloads = stats
	c.mu.Unlock()
}

// Register adds c to reg. A collector already registered is returned
// instead, so restarts keep exporting.
func (c *Collector) Register(reg prom.Registerer) (prom.Collector, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range []*prom.Desc{
		c.requests, c.memoryHits, c.memoryAdds, c.memoryLen, c.memoryBytes, c.poolEvents, c.poolIdle,
		c.fetches, c.failures, c.retries, c.inFlight, c.tasks, c.queued, c.workers, c.level,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prom.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, stats := range c.caches {
		c.collectCache(ch, name, stats())
	}
	if c.downloads != nil {
		c.collectDownloads(ch, c.downloads())
	}
}

func counter(ch chan<- prom.Metric, d *prom.Desc, v uint64, labels ...string) {
	ch <- prom.MustNewConstMetric(d, prom.CounterValue, float64(v), labels...)
}

func gauge(ch chan<- prom.Metric, d *prom.Desc, v float64, labels ...string) {
	ch <- prom.MustNewConstMetric(d, prom.GaugeValue, v, labels...)
}

func (c *Collector) collectCache(ch chan<- prom.Metric, name string, st tiercache.Stats) {
	counter(ch, c.requests, st.FromMemory, name, "memory")
	counter(ch, c.requests, st.FromDisk, name, "disk")
	counter(ch, c.requests, st.FromNetwork, name, "network")
	counter(ch, c.requests, st.Cancelled, name, "cancelled")
	counter(ch, c.requests, st.Misses, name, "miss")

	m := st.Memory
	counter(ch, c.memoryHits, m.StrongHits, name, "strong")
	counter(ch, c.memoryHits, m.WeakHits, name, "weak")
	counter(ch, c.memoryHits, m.WeakHitMisses, name, "weak_dead")
	counter(ch, c.memoryHits, m.Misses, name, "miss")
	counter(ch, c.memoryAdds, m.AddedBig, name, "big")
	counter(ch, c.memoryAdds, m.AddedSmall, name, "small")
	gauge(ch, c.memoryLen, float64(m.StrongLen), name, "strong")
	gauge(ch, c.memoryLen, float64(m.WeakLen), name, "weak")
	gauge(ch, c.memoryBytes, float64(m.StrongBytes), name, "strong")
	gauge(ch, c.memoryBytes, float64(m.WeakBytes), name, "weak")

	p := st.Pool
	counter(ch, c.poolEvents, p.Created, name, "created")
	counter(ch, c.poolEvents, p.Reused, name, "reused")
	counter(ch, c.poolEvents, p.Returned, name, "returned")
	counter(ch, c.poolEvents, p.Recycled, name, "recycled")
	gauge(ch, c.poolIdle, float64(p.Idle), name)
}

func (c *Collector) collectDownloads(ch chan<- prom.Metric, st download.Stats) {
	counter(ch, c.fetches, st.Fetches)
	counter(ch, c.failures, st.Failures)
	counter(ch, c.retries, st.Retries)
	gauge(ch, c.inFlight, float64(st.InFlight))

	e := st.Executor
	counter(ch, c.tasks, e.Submitted, "submitted")
	counter(ch, c.tasks, e.Rejected, "rejected")
	counter(ch, c.tasks, e.Replaced, "replaced")
	counter(ch, c.tasks, e.Ran, "ran")
	counter(ch, c.tasks, e.Skipped, "skipped")
	gauge(ch, c.queued, float64(e.Queued))
	gauge(ch, c.workers, float64(e.Workers))
	gauge(ch, c.level, float64(e.Level))
}
