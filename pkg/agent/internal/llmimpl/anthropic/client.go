// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a raw client for the given model; middleware is applied at a higher level.
func NewClaudeClient(apiKey, model string) *ClaudeClient {
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	return convertMessage(resp)
}

// Stream implements the llm.LLMClient interface. Text deltas are forwarded as they
// arrive; tool calls are assembled from the accumulated message and sent with Done.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		send := func(chunk llm.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(llm.StreamChunk{Error: llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "stream accumulation failed"), Done: true})
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					if !send(llm.StreamChunk{Content: text.Text}) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: classifyError(err), Done: true})
			return
		}

		final, err := convertMessage(&message)
		if err != nil {
			send(llm.StreamChunk{Error: err, Done: true})
			return
		}
		usage := final.Usage
		send(llm.StreamChunk{ToolCalls: final.ToolCalls, Usage: &usage, Done: true})
	}()
	return out, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (c *ClaudeClient) buildParams(in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		if in.ToolChoice == "any" {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params, nil
}

// convertMessages maps the conversation onto Anthropic's strict user/assistant
// alternation. System text is lifted out; tool results travel inside user turns;
// adjacent same-side messages are merged into one turn.
func convertMessages(messages []llm.CompletionMessage) ([]anthropic.MessageParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	type turn struct {
		role   llm.CompletionRole
		blocks []anthropic.ContentBlockParamUnion
	}

	var (
		systemParts []string
		turns       []turn
	)

	for i := range messages {
		msg := &messages[i]

		var (
			role   llm.CompletionRole
			blocks []anthropic.ContentBlockParamUnion
		)
		switch msg.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		case llm.RoleUser, llm.RoleTool:
			role = llm.RoleUser
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		case llm.RoleAssistant:
			role = llm.RoleAssistant
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				input := tc.Parameters
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if len(blocks) == 0 {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			continue
		}
		turns = append(turns, turn{role: role, blocks: blocks})
	}

	if len(turns) == 0 {
		return nil, "", fmt.Errorf("conversation has no user or assistant content")
	}
	if turns[0].role != llm.RoleUser {
		return nil, "", fmt.Errorf("first message must be user role, got: %s", turns[0].role)
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for i := range turns {
		if turns[i].role == llm.RoleUser {
			out = append(out, anthropic.NewUserMessage(turns[i].blocks...))
		} else {
			out = append(out, anthropic.NewAssistantMessage(turns[i].blocks...))
		}
	}
	return out, strings.Join(systemParts, "\n\n"), nil
}

// convertTools converts tool definitions to Anthropic tool params.
func convertTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := anthropic.ToolInputSchemaParam{
			Properties: def.InputSchema.Properties,
			Required:   def.InputSchema.Required,
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// convertMessage extracts text, tool calls and usage from an Anthropic message.
func convertMessage(resp *anthropic.Message) (llm.CompletionResponse, error) {
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Claude API")
	}

	var (
		text      strings.Builder
		toolCalls []llm.ToolCall
	)
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			params := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &params); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
						fmt.Sprintf("invalid input for tool %s", block.Name))
				}
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Parameters: params})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return llmerrors.Classify(err, apiErr.StatusCode)
	}
	return llmerrors.Classify(err, 0)
}
