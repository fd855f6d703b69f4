package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the cache counters into Prometheus. All methods are safe
// on a nil receiver so the cache can run without a registry in tests.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewMetrics registers the cache counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexsync",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups served from a valid entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexsync",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that invoked the loader.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexsync",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted by the size bound.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) evict(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}
