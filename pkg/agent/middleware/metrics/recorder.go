// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording LLM operation metrics.
// The caller label names the component issuing the request ("orchestrator", "crew").
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, caller string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

func (n *NoopRecorder) IncThrottle(_, _ string) {}

func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}
