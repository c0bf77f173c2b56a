package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Exhausting every attempt on a retryable error yields ErrorTypeServiceUnavailable.
// Streams are retried only while opening; once chunks flow, errors pass through.
func Middleware(policy *Policy) llm.Middleware {
	logger := logx.NewLogger("llm-retry")

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := do(ctx, policy, logger, next.GetModelName(), func() (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
				return resp, err
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return do(ctx, policy, logger, next.GetModelName(), func() (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
			},
			next.GetModelName,
		)
	}
}

func do[T any](ctx context.Context, policy *Policy, logger *logx.Logger, model string, call func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			logger.Warn("retrying %s (attempt %d/%d) in %s: %v", model, attempt, policy.Config.MaxAttempts, delay, lastErr)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.ShouldRetry(err) {
			return zero, err
		}
	}

	return zero, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
}
