// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

// maxLoggedChars bounds each message written to the log.
const maxLoggedChars = 2000

// EmptyResponseLoggingMiddleware logs the request that produced an empty response
// and passes the error through unchanged.
func EmptyResponseLoggingMiddleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
					logEmptyResponseDebugInfo(next.GetModelName(), req)
				}
				return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

//nolint:gocritic // request is passed by value like everywhere else in the chain
func logEmptyResponseDebugInfo(model string, req llm.CompletionRequest) {
	logger := logx.NewLogger("llm-middleware")

	logger.Error("🚨 EMPTY RESPONSE FROM %s - %d messages, temperature=%v, max_tokens=%d, tools=[%s]",
		model, len(req.Messages), req.Temperature, req.MaxTokens, strings.Join(toolNames(req.Tools), ", "))

	for i := range req.Messages {
		msg := &req.Messages[i]
		logger.Error("Message [%d] Role: %s, tool_calls=%d, tool_results=%d, Content: %s",
			i, msg.Role, len(msg.ToolCalls), len(msg.ToolResults), SanitizePrompt(msg.Content, maxLoggedChars))
	}
}

func toolNames(defs []llm.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i := range defs {
		names[i] = defs[i].Name
	}
	return names
}

// SanitizePrompt shortens a large prompt to its first and last portions plus a hash of the whole.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	half := maxChars / 2
	if half < 100 {
		half = 100
	}
	if 2*half >= len(prompt) {
		return prompt
	}

	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s",
		prompt[:half], len(prompt), hash[:8], prompt[len(prompt)-half:])
}
