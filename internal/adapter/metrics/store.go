package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for the table store gateway.
type StoreMetrics struct {
	PagesFetched   prometheus.Counter
	Fetches        *prometheus.CounterVec
	Commits        *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	CommitDuration *prometheus.HistogramVec
	QueryDuration  *prometheus.HistogramVec
	QueryErrors    *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "pages_fetched_total",
			Help:      "Total number of table pages read from the store.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetches_total",
			Help:      "Total number of full-table reads, by result.",
		}, []string{"result"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commits_total",
			Help:      "Total number of store writes, by mode and result.",
		}, []string{"mode", "result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total number of retried store reads, by reason.",
		}, []string{"reason"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of full-table reads in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commit_duration_seconds",
			Help:      "Duration of store writes in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Duration of individual backend queries in seconds, by statement kind.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"query"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Total number of failed backend queries, by statement kind.",
		}, []string{"query"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per backend (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
	}

	reg.MustRegister(m.PagesFetched, m.Fetches, m.Commits, m.Retries, m.FetchDuration, m.CommitDuration, m.QueryDuration, m.QueryErrors, m.BreakerState)
	return m
}
