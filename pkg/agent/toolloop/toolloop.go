// Package toolloop provides a reusable abstraction for LLM tool calling loops.
// Crew roles use it to run a task with optional delegation tools.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

// DefaultMaxIterations bounds the loop when Config.MaxIterations is unset.
const DefaultMaxIterations = 10

// Tool is something the model can call from inside the loop.
type Tool interface {
	Definition() llm.ToolDefinition
	Exec(ctx context.Context, params map[string]any) (string, error)
}

// ToolLoop manages LLM interactions with tool calling.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a new ToolLoop instance.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{
		llmClient: llmClient,
		logger:    logger,
	}
}

// Config defines how the tool loop behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// Messages seeds the conversation, typically a system prompt and the task prompt.
	Messages []llm.CompletionMessage

	// Tools offered to the model. May be empty, in which case the loop is a single completion.
	Tools []Tool

	// OnToolResult is called after each tool execution.
	OnToolResult func(call llm.ToolCall, result string, err error)

	// Maximum model calls before the loop gives up.
	MaxIterations int

	// Maximum tokens per LLM request.
	MaxTokens int

	Temperature float32
}

// Run executes the tool loop. It never returns a nil Outcome.Err on failure and
// never retries model calls; retries belong to the client middleware.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) Outcome {
	if len(cfg.Messages) == 0 {
		return Outcome{Kind: OutcomeLLMError, Err: fmt.Errorf("toolloop: at least one message is required")}
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	byName := make(map[string]Tool, len(cfg.Tools))
	defs := make([]llm.ToolDefinition, 0, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		def := tool.Definition()
		byName[def.Name] = tool
		defs = append(defs, def)
	}

	messages := append([]llm.CompletionMessage(nil), cfg.Messages...)
	out := Outcome{}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		out.Iteration = iteration
		if err := ctx.Err(); err != nil {
			return tl.canceled(out, messages, err)
		}

		req := llm.CompletionRequest{
			Messages:    messages,
			Tools:       defs,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		}
		if err := req.Validate(); err != nil {
			out.Kind, out.Err, out.Messages = OutcomeLLMError, fmt.Errorf("invalid completion request: %w", err), messages
			return out
		}

		tl.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d tools (iteration %d)",
			tl.llmClient.GetModelName(), len(messages), len(defs), iteration)
		tl.logMessages(messages)

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return tl.canceled(out, messages, err)
			}
			tl.logger.Error("❌ LLM call failed after %.3gs: %v", duration.Seconds(), err)
			out.Kind, out.Err, out.Messages = OutcomeLLMError, fmt.Errorf("LLM completion failed: %w", err), messages
			return out
		}
		out.Usage.InputTokens += resp.Usage.InputTokens
		out.Usage.OutputTokens += resp.Usage.OutputTokens

		tl.logger.Info("✅ LLM call completed in %.3gs, response length: %d chars, tool calls: %d",
			duration.Seconds(), len(resp.Content), len(resp.ToolCalls))

		messages = append(messages, llm.NewAssistantMessage(resp.Content, resp.ToolCalls...))

		if len(resp.ToolCalls) == 0 {
			out.Messages = messages
			if strings.TrimSpace(resp.Content) == "" {
				out.Kind, out.Err = OutcomeEmpty, ErrNoActivity
				return out
			}
			out.Kind, out.Value = OutcomeSuccess, resp.Content
			return out
		}

		// Every tool call must get a result before the next model call.
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			out.ToolCalls++

			content, execErr := tl.execTool(ctx, byName, call)
			if cfg.OnToolResult != nil {
				cfg.OnToolResult(call, content, execErr)
			}
			if execErr != nil && (IsFatal(execErr) || ctx.Err() != nil) {
				out.Messages = messages
				if ctx.Err() != nil {
					return tl.canceled(out, messages, execErr)
				}
				out.Kind, out.Err = OutcomeToolError, fmt.Errorf("tool %s failed: %w", call.Name, execErr)
				return out
			}

			result := llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content}
			if execErr != nil {
				result.Content = fmt.Sprintf("Tool failed: %v", execErr)
				result.IsError = true
			}
			results = append(results, result)
		}
		messages = append(messages, llm.NewToolResultMessage(results...))
		tl.logger.Info("🔄 Tools executed, continuing iteration")
	}

	tl.logger.Warn("⚠️  Maximum tool iterations (%d) reached", maxIterations)
	out.Kind, out.Err, out.Messages = OutcomeMaxIterations, fmt.Errorf("%w (%d)", ErrMaxIterations, maxIterations), messages
	return out
}

func (tl *ToolLoop) execTool(ctx context.Context, byName map[string]Tool, call llm.ToolCall) (string, error) {
	tool, ok := byName[call.Name]
	if !ok {
		tl.logger.Warn("Model called unknown tool %q", call.Name)
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	tl.logger.Info("Executing tool: %s", call.Name)
	start := time.Now()
	content, err := tool.Exec(ctx, call.Parameters)
	if err != nil {
		tl.logger.Error("Tool %s failed after %.3fs: %v", call.Name, time.Since(start).Seconds(), err)
		return "", err
	}
	tl.logger.Info("Tool %s completed in %.3fs", call.Name, time.Since(start).Seconds())
	return content, nil
}

func (tl *ToolLoop) canceled(out Outcome, messages []llm.CompletionMessage, cause error) Outcome {
	tl.logger.Warn("Tool loop interrupted at iteration %d: %v", out.Iteration, cause)
	out.Kind, out.Messages = OutcomeCanceled, messages
	out.Err = errors.Join(ErrGracefulShutdown, cause)
	return out
}

// logMessages logs message summaries when the toolloop debug domain is enabled.
func (tl *ToolLoop) logMessages(messages []llm.CompletionMessage) {
	if !logx.IsDebugEnabledForDomain("toolloop") {
		return
	}
	for i := range messages {
		msg := &messages[i]
		preview := msg.Content
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		tl.logger.Debug("  [%d] Role: %s, Content: %q, ToolCalls: %d, ToolResults: %d",
			i, msg.Role, preview, len(msg.ToolCalls), len(msg.ToolResults))
	}
}
