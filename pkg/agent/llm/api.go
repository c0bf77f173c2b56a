// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant CompletionRole = "assistant"
	// RoleTool carries the results of tool calls back to the model.
	RoleTool CompletionRole = "tool"
)

const (
	// DefaultMaxTokens caps a completion when the caller does not say otherwise.
	DefaultMaxTokens = 4096

	// TemperatureDeterministic is used for the conversational agent.
	TemperatureDeterministic = 0.0

	// TemperatureCrew leaves a little room for the crew to avoid repeating itself.
	TemperatureCrew = 0.2
)

// ToolCall represents a tool call made by the LLM.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult is the outcome of one ToolCall, sent back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionMessage represents a message in a completion request.
// Assistant messages may carry ToolCalls; tool messages carry ToolResults.
type CompletionMessage struct {
	Role        CompletionRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Property describes one parameter of a tool.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema is the JSON-schema object a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what the model is told about a tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Usage is the token accounting reported by the provider, when it reports any.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []ToolDefinition
	ToolChoice  string // "", "auto", "any" or a tool name
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string
	Usage      Usage
}

// StreamChunk represents a chunk of streamed completion response.
// Tool calls are delivered whole, never split across chunks.
type StreamChunk struct {
	Error     error
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Done      bool
}

// LLMClient defines the interface for language model interactions.
// Implementations must be safe for concurrent use.
type LLMClient interface { //nolint:revive // Keep name for backward compatibility
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks. The channel is closed
	// after a chunk with Done or Error set.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDeterministic,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, calls ...ToolCall) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultMessage bundles tool results into one message.
func NewToolResultMessage(results ...ToolResult) CompletionMessage {
	return CompletionMessage{Role: RoleTool, ToolResults: results}
}

// CollectStream drains a stream into a single response. onText, if not nil,
// receives each text delta as it arrives.
func CollectStream(stream <-chan StreamChunk, onText func(string)) (CompletionResponse, error) {
	var (
		sb   strings.Builder
		resp CompletionResponse
	)
	for chunk := range stream {
		if chunk.Error != nil {
			return CompletionResponse{}, chunk.Error
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			if onText != nil {
				onText(chunk.Content)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}
	resp.Content = sb.String()
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	} else {
		resp.StopReason = "end_turn"
	}
	return resp, nil
}

// StreamFromResponse emits resp as a single-chunk stream. Clients without native
// streaming use it to satisfy Stream.
func StreamFromResponse(resp CompletionResponse) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	usage := resp.Usage
	ch <- StreamChunk{Content: resp.Content, ToolCalls: resp.ToolCalls, Usage: &usage, Done: true}
	close(ch)
	return ch
}

// Validate checks that the conversation is well-formed before it is sent.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("completion request has no messages")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", r.MaxTokens)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %.2f", r.Temperature)
	}
	for i := range r.Tools {
		if r.Tools[i].Name == "" {
			return fmt.Errorf("tool %d has no name", i)
		}
	}
	return nil
}
