package metrics

import "github.com/prometheus/client_golang/prometheus"

// ViewMetrics holds Prometheus metrics for the staleness-bounded table view.
type ViewMetrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Shared        prometheus.Counter
	Invalidations prometheus.Counter
	SnapshotAge   prometheus.Histogram
}

// NewViewMetrics creates and registers view metrics on the given registry.
func NewViewMetrics(reg prometheus.Registerer) *ViewMetrics {
	m := &ViewMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "hits_total",
			Help:      "Total number of reads served from a fresh-enough snapshot.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "misses_total",
			Help:      "Total number of reads that fetched from the store.",
		}),
		Shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "shared_fetches_total",
			Help:      "Total number of reads that joined another caller's fetch.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "invalidations_total",
			Help:      "Total number of snapshot invalidations.",
		}),
		SnapshotAge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "snapshot_age_seconds",
			Help:      "Age of the snapshot when served from cache.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Shared, m.Invalidations, m.SnapshotAge)
	return m
}
