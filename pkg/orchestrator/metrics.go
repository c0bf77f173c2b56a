package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records state machine activity. A nil *Metrics records nothing.
type Metrics struct {
	stepsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
}

// NewMetrics registers the orchestrator metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_steps_total",
				Help: "Total number of orchestrator state machine steps by state and status",
			},
			[]string{"step", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
	}

	// Every non-terminal step is exported from the start, at zero.
	for _, step := range AllSteps() {
		if step == StepEnd {
			continue
		}
		m.stepsTotal.WithLabelValues(string(step), "success")
		m.stepsTotal.WithLabelValues(string(step), "error")
	}
	return m
}

func (m *Metrics) observeStep(step Step, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stepsTotal.WithLabelValues(string(step), status).Inc()
}

func (m *Metrics) observeTurn(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "answered"
	if err != nil {
		outcome = "failed"
	}
	m.turnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
