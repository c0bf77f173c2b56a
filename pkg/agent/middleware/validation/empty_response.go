// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

const maxEmptyAttempts = 2

// guidanceMessage is appended as a user message before the second attempt.
const guidanceMessage = "No response was received. Please answer the last message, either with text or by calling one of the available tools."

// IsEmpty reports whether resp carries neither text nor tool calls.
func IsEmpty(resp llm.CompletionResponse) bool {
	return len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Content) == ""
}

// EmptyResponseMiddleware retries an empty completion once with a guidance message
// and returns ErrorTypeEmptyResponse if the model stays silent.
// Streams pass through unchanged; callers validate the collected response.
func EmptyResponseMiddleware() llm.Middleware {
	logger := logx.NewLogger("empty-response-validator")

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
					}
					if err == nil && !IsEmpty(resp) {
						return resp, nil
					}

					logger.Warn("⚠️ EMPTY RESPONSE DETECTED from %s (attempt %d/%d), stop_reason=%q",
						next.GetModelName(), attempt, maxEmptyAttempts, resp.StopReason)

					if attempt < maxEmptyAttempts {
						guided := req
						guided.Messages = make([]llm.CompletionMessage, len(req.Messages), len(req.Messages)+1)
						copy(guided.Messages, req.Messages)
						guided.Messages = append(guided.Messages, llm.NewUserMessage(guidanceMessage))
						req = guided
					}
				}

				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"model returned no content and no tool calls after guidance",
				)
			},
			next.Stream,
			next.GetModelName,
		)
	}
}
