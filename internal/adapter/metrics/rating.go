package metrics

import "github.com/prometheus/client_golang/prometheus"

// RatingMetrics holds Prometheus metrics for the assignment and commit protocol.
type RatingMetrics struct {
	Submissions    *prometheus.CounterVec
	Assignments    *prometheus.CounterVec
	ImageMisses    prometheus.Counter
	RatedRows      prometheus.Gauge
	TotalRows      prometheus.Gauge
	ActiveSessions prometheus.Gauge
}

// NewRatingMetrics creates and registers rating metrics on the given registry.
func NewRatingMetrics(reg prometheus.Registerer) *RatingMetrics {
	m := &RatingMetrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of rating submissions, by result.",
		}, []string{"result"}),
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Total number of assignment attempts, by result.",
		}, []string{"result"}),
		ImageMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_misses_total",
			Help:      "Total number of candidate rows skipped because the image is missing.",
		}),
		RatedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rated_rows",
			Help:      "Number of rated rows in the last observed snapshot.",
		}),
		TotalRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_rows",
			Help:      "Number of rows in the last observed snapshot.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of rater sessions held in memory.",
		}),
	}

	reg.MustRegister(m.Submissions, m.Assignments, m.ImageMisses, m.RatedRows, m.TotalRows, m.ActiveSessions)
	return m
}
