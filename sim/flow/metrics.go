package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pipeline utilisation to Prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	PoolActive  *prometheus.GaugeVec
	FreeMemory  prometheus.Gauge
	Uncommitted prometheus.Gauge
	Admissions  *prometheus.CounterVec
	StageItems  *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// Panics if they are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jpansim",
			Name:      "pool_active_workers",
			Help:      "Tasks currently running on a worker pool.",
		}, []string{"pool"}),
		FreeMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jpansim",
			Name:      "monitor_free_memory_bytes",
			Help:      "Free memory observed by the admission monitor at its last poll.",
		}),
		Uncommitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jpansim",
			Name:      "monitor_uncommitted_slots",
			Help:      "Admission slots the monitor may still grant.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jpansim",
			Name:      "monitor_decisions_total",
			Help:      "Admission decisions by result.",
		}, []string{"result"}),
		StageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jpansim",
			Name:      "stage_items_total",
			Help:      "Units of work handled by each build stage, by outcome.",
		}, []string{"stage", "outcome"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jpansim",
			Name:      "runs_total",
			Help:      "Simulation executions by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jpansim",
			Name:      "run_duration_seconds",
			Help:      "Wall time of simulation executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	reg.MustRegister(m.PoolActive, m.FreeMemory, m.Uncommitted, m.Admissions, m.StageItems, m.Runs, m.RunDuration)
	return m
}

// WatchPool reports the active worker count of p under its name.
func (m *Metrics) WatchPool(p *Pool) {
	if m == nil {
		return
	}
	g := m.PoolActive.WithLabelValues(p.Name())
	p.gauge = func(active int64) { g.Set(float64(active)) }
}

func (m *Metrics) observePoll(free uint64, uncommitted int, admitted bool) {
	if m == nil {
		return
	}
	m.FreeMemory.Set(float64(free))
	m.Uncommitted.Set(float64(uncommitted))
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	m.Admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) observeStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageItems.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) observeRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}
