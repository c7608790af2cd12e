package scheduler

import "github.com/prometheus/client_golang/prometheus"

const (
	fireDispatched     = "dispatched"
	fireSkippedOverlap = "skipped_overlap"
	fireSkippedLeader  = "skipped_leader"
	fireDropped        = "dropped"
)

// Metrics holds scheduler collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobs     prometheus.Gauge
	pending  prometheus.Gauge
	fires    *prometheus.CounterVec
	panics   prometheus.Counter
	replayed *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs",
			Help:      "Live jobs in the kernel.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pending_registrations",
			Help:      "Registrations buffered until activation.",
		}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Kernel fires, by outcome.",
		}, []string{"outcome"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_panics_total",
			Help:      "Job payloads that panicked.",
		}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "replayed_registrations_total",
			Help:      "Buffered registrations replayed on activation, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.jobs, m.pending, m.fires, m.panics, m.replayed)
	return m
}

func (m *Metrics) setJobs(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) observeFire(outcome string) {
	if m == nil {
		return
	}
	m.fires.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observePanic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *Metrics) observeReplay(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.replayed.WithLabelValues(result).Inc()
}
