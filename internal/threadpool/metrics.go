package threadpool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
	outcomeSkipped   = "skipped_overlap"
)

// Metrics holds the pool collectors. A nil *Metrics records nothing.
type Metrics struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queue    *prometheus.GaugeVec
	inFlight *prometheus.GaugeVec
}

// NewMetrics registers pool collectors on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_total",
			Help:      "Tasks handled by a pool, by outcome.",
		}, []string{"pool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Task run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Tasks waiting for a worker.",
		}, []string{"pool"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_flight",
			Help:      "Tasks currently running.",
		}, []string{"pool"}),
	}
	reg.MustRegister(m.tasks, m.duration, m.queue, m.inFlight)
	return m
}

func (m *Metrics) observeOutcome(pool, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(pool, outcome).Inc()
}

func (m *Metrics) observeDuration(pool string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(pool).Observe(d.Seconds())
}

func (m *Metrics) setQueue(pool string, n int) {
	if m == nil {
		return
	}
	m.queue.WithLabelValues(pool).Set(float64(n))
}

func (m *Metrics) setInFlight(pool string, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(pool).Set(float64(n))
}
