package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers provider-reported usage and falls back to a tiktoken estimate.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	return utils.CountTokensSimple(promptText(req)), utils.CountTokensSimple(resp.Content)
}

func promptText(req llm.CompletionRequest) string {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
		for j := range req.Messages[i].ToolResults {
			sb.WriteString(req.Messages[i].ToolResults[j].Content)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Middleware returns a middleware function that records metrics for LLM operations.
// Streams are observed when they finish so that duration and tokens cover the whole response.
func Middleware(recorder Recorder, caller string, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		observe := func(req llm.CompletionRequest, resp llm.CompletionResponse, err error, start time.Time) {
			model := next.GetModelName()
			duration := time.Since(start)

			var promptTokens, completionTokens int
			if err == nil {
				promptTokens, completionTokens = usageExtractor(req, resp)
			}
			recorder.ObserveRequest(model, caller, promptTokens, completionTokens, err == nil, errorType(err), duration)

			if logger != nil {
				status := statusSuccess
				if err != nil {
					status = statusError
				}
				logger.Info("🎯 LLM Request: model=%s caller=%s tokens=%d+%d=%d tool_calls=%d status=%s duration=%dms",
					model, caller, promptTokens, completionTokens, promptTokens+completionTokens,
					len(resp.ToolCalls), status, duration.Milliseconds())
			}
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				observe(req, resp, err, start)
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				in, err := next.Stream(ctx, req)
				if err != nil {
					observe(req, llm.CompletionResponse{}, err, start)
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					var (
						sb      strings.Builder
						resp    llm.CompletionResponse
						lastErr error
					)
				loop:
					for chunk := range in {
						sb.WriteString(chunk.Content)
						resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
						if chunk.Usage != nil {
							resp.Usage = *chunk.Usage
						}
						if chunk.Error != nil {
							lastErr = chunk.Error
						}
						select {
						case out <- chunk:
						case <-ctx.Done():
							lastErr = ctx.Err()
							break loop
						}
						if chunk.Done || chunk.Error != nil {
							break
						}
					}
					resp.Content = sb.String()
					observe(req, resp, lastErr, start)
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}

// errorType returns the metrics label for err.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
