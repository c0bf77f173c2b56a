// Package ratelimit provides rate limiting middleware for LLM clients.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/metrics"
)

// NewLimiter returns a limiter allowing requestsPerMinute with a burst of one tenth
// of that (at least one). A non-positive rate returns nil, meaning unlimited.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)
}

// Middleware waits on limiter before each request. Clients sharing a provider
// quota should share one limiter. A nil limiter disables the middleware.
func Middleware(limiter *rate.Limiter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		if limiter == nil {
			return next
		}

		wait := func(ctx context.Context) error {
			model := next.GetModelName()
			if limiter.Allow() {
				return nil
			}
			recorder.IncThrottle(model, "rate_limit")
			start := time.Now()
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter wait for %s: %w", model, err)
			}
			recorder.ObserveQueueWait(model, time.Since(start))
			return nil
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := wait(ctx); err != nil {
					return llm.CompletionResponse{}, err
				}
				return next.Complete(ctx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if err := wait(ctx); err != nil {
					return nil, err
				}
				return next.Stream(ctx, req)
			},
			next.GetModelName,
		)
	}
}
