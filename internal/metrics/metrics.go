// Package metrics exposes crew run statistics in Prometheus format.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mtzanidakis/crew/internal/crew"
)

const namespace = "crew"

// Metrics records lifecycle events. It implements crew.Listener.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runsInFlight *prometheus.GaugeVec
	runDuration  *prometheus.HistogramVec
	tasksTotal   *prometheus.CounterVec
	taskRetries  *prometheus.CounterVec
	delegations  *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		started:  make(map[string]time.Time),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished crew runs by crew and status",
		}, []string{"crew", "status"}),
		runsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Crew runs currently executing",
		}, []string{"crew"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of crew runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"crew", "status"}),
		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by crew and status",
		}, []string{"crew", "status"}),
		taskRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Rate-limited provider calls that were retried",
		}, []string{"crew", "task"}),
		delegations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Assignment plans produced by crew managers",
		}, []string{"crew"}),
	}
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OnEvent(e crew.Event) {
	switch e.Type {
	case crew.EventRunStarted:
		m.mu.Lock()
		m.started[e.RunID] = e.Time
		m.mu.Unlock()
		m.runsInFlight.WithLabelValues(e.Crew).Inc()
	case crew.EventRunCompleted:
		m.finishRun(e, "completed")
	case crew.EventRunFailed:
		m.finishRun(e, "failed")
	case crew.EventTaskCompleted:
		m.tasksTotal.WithLabelValues(e.Crew, "completed").Inc()
	case crew.EventTaskFailed:
		m.tasksTotal.WithLabelValues(e.Crew, "failed").Inc()
	case crew.EventTaskRetrying:
		m.taskRetries.WithLabelValues(e.Crew, e.Task).Inc()
	case crew.EventDelegationPlanned:
		m.delegations.WithLabelValues(e.Crew).Inc()
	}
}

func (m *Metrics) finishRun(e crew.Event, status string) {
	m.mu.Lock()
	start, ok := m.started[e.RunID]
	delete(m.started, e.RunID)
	m.mu.Unlock()

	m.runsTotal.WithLabelValues(e.Crew, status).Inc()
	if !ok {
		return
	}
	m.runsInFlight.WithLabelValues(e.Crew).Dec()
	m.runDuration.WithLabelValues(e.Crew, status).Observe(e.Time.Sub(start).Seconds())
}
