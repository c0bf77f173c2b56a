package crew

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics records crew activity. A nil *Metrics records nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	delegationsTotal *prometheus.CounterVec
}

// NewMetrics registers the crew metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_runs_total",
				Help: "Total number of crew runs by status",
			},
			[]string{"status"},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_tasks_total",
				Help: "Total number of crew tasks by task and status",
			},
			[]string{"task", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crew_task_duration_seconds",
				Help:    "Duration of crew tasks in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"task"},
		),
		delegationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_delegations_total",
				Help: "Total number of delegations between crew roles",
			},
			[]string{"tool", "coworker"},
		),
	}
}

func (m *Metrics) observeRun(success bool) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status(success)).Inc()
}

func (m *Metrics) observeTask(task string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(task, status(success)).Inc()
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) observeDelegation(tool, coworker string) {
	if m == nil {
		return
	}
	m.delegationsTotal.WithLabelValues(tool, coworker).Inc()
}

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusFailure
}
