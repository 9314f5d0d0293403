package exec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the execution core; register on the process registry, or
// pass nil for a throwaway one (tests).
type Metrics struct {
	JobsActive      prometheus.Gauge
	TasksStarted    prometheus.Counter
	TasksStopped    prometheus.Counter
	ExchangeBatches prometheus.Counter
	FetchSeconds    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		JobsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sqlgrid", Name: "jobs_active",
			Help: "Jobs currently registered.",
		}),
		TasksStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sqlgrid", Name: "tasks_started_total",
			Help: "Tasks that began executing on this node.",
		}),
		TasksStopped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sqlgrid", Name: "tasks_stopped_total",
			Help: "Tasks stopped on this node.",
		}),
		ExchangeBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sqlgrid", Name: "exchange_batches_total",
			Help: "Row batches served over exchange channels.",
		}),
		FetchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sqlgrid", Name: "fetch_seconds",
			Help:    "Statement fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
