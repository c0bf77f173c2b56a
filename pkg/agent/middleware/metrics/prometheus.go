package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM metrics with reg. A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, caller and status",
			},
			[]string{"model", "caller", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "caller", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"model", "caller"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of LLM throttling events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
}

func (p *PrometheusRecorder) ObserveRequest(
	model, caller string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, caller, status, errorType).Inc()
	if success {
		p.tokensTotal.WithLabelValues(model, caller, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, caller, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(model, caller).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}
