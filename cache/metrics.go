package cache

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes cache statistics as Prometheus metrics.
type Collector struct {
	cache *Cache

	allocations *prometheus.Desc
	reuses      *prometheus.Desc
	evictions   *prometheus.Desc
	programs    *prometheus.Desc
	lookups     *prometheus.Desc
	idle        *prometheus.Desc
	idleBytes   *prometheus.Desc
	checkedOut  *prometheus.Desc
	peak        *prometheus.Desc
}

// NewCollector creates a collector for c. Register it with a
// prometheus.Registerer.
func NewCollector(c *Cache) *Collector {
	const ns, sub = "petal", "cache"
	return &Collector{
		cache: c,
		allocations: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "allocations_total"),
			"Render targets allocated on the device.", nil, nil),
		reuses: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "reuses_total"),
			"Render target acquisitions served from the idle pool.", nil, nil),
		evictions: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "evictions_total"),
			"Idle render targets freed.", nil, nil),
		programs: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "programs"),
			"Compiled programs held by the cache.", nil, nil),
		lookups: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "program_lookups_total"),
			"Program lookups by result.", []string{"result"}, nil),
		idle: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "idle_targets"),
			"Idle render targets.", nil, nil),
		idleBytes: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "idle_bytes"),
			"Bytes held by idle render targets.", nil, nil),
		checkedOut: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "checked_out_targets"),
			"Render targets currently checked out.", nil, nil),
		peak: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "peak_checked_out_targets"),
			"High-water mark of checked out render targets.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocations
	ch <- c.reuses
	ch <- c.evictions
	ch <- c.programs
	ch <- c.lookups
	ch <- c.idle
	ch <- c.idleBytes
	ch <- c.checkedOut
	ch <- c.peak
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter(c.allocations, s.Allocations)
	counter(c.reuses, s.Reuses)
	counter(c.evictions, s.Evictions)
	counter(c.lookups, s.ProgramHits, "hit")
	counter(c.lookups, s.ProgramMisses, "miss")
	counter(c.lookups, s.ProgramFailures, "failure")
	gauge(c.programs, float64(s.Programs))
	gauge(c.idle, float64(s.Idle))
	gauge(c.idleBytes, float64(s.IdleBytes))
	gauge(c.checkedOut, float64(s.CheckedOut))
	gauge(c.peak, float64(s.PeakCheckedOut))
}
