package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "postpilot",
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Duration of one dispatch cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	dueBatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "postpilot",
			Name:      "dispatch_due_batch_size",
			Help:      "Number of due posts selected in the last cycle.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(dispatchTotal, cycleDuration, dueBatchSize)
	})
}

// IncDispatch increments the counter for a dispatch outcome label.
func IncDispatch(outcome string) {
	dispatchTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle records the duration of one dispatch cycle.
func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// SetDueBatch records the size of the last selected batch.
func SetDueBatch(n int) {
	dueBatchSize.Set(float64(n))
}
