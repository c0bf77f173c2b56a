// Package retry provides retry logic with exponential backoff for resilient LLM calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           // Maximum number of attempts (including initial)
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	Jitter        bool          // Spread retries by +/-10%
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Classified errors decide for themselves;
// a cancelled caller is never retried while a per-request deadline is.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the delay before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		spread := float64(delay) * 0.1
		delay += time.Duration(spread * (2*rand.Float64() - 1)) //nolint:gosec // jitter, not crypto
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
