// Package ollama provides Ollama client implementation for LLM interface.
// Ollama is a local LLM runtime that allows running open-source models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

// Client wraps the Ollama API client to implement llm.LLMClient interface.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a client for the Ollama server at hostURL (e.g. "http://localhost:11434").
func NewOllamaClient(hostURL, model string) (*Client, error) {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Ollama host %q", hostURL)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.buildRequest(in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	return convertResponse(&response), nil
}

// Stream implements the llm.LLMClient interface. Ollama delivers tool calls in a
// single chunk, so they are forwarded as-is.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.buildRequest(in, true)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)

		var usage *llm.Usage
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunk := llm.StreamChunk{Content: resp.Message.Content}
			if len(resp.Message.ToolCalls) > 0 {
				chunk.ToolCalls = convertToolCallsFromOllama(resp.Message.ToolCalls)
			}
			if resp.Done {
				converted := convertResponse(&resp)
				usage = &converted.Usage
			}
			if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
				return nil
			}
			select {
			case out <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		final := llm.StreamChunk{Done: true, Usage: usage}
		if err != nil {
			final = llm.StreamChunk{Done: true, Error: classifyError(err)}
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) buildRequest(in llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertToolsToOllama(in.Tools)
	}
	return req, nil
}

// convertMessagesToOllama converts our message format to Ollama's Message format.
// Tool results are sent as separate messages with role "tool".
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			content := tr.Content
			if tr.IsError {
				content = "ERROR: " + content
			}
			result = append(result, api.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tr.ToolCallID,
			})
		}
		if len(msg.ToolResults) > 0 && msg.Content == "" {
			continue
		}

		role := msg.Role
		if role == llm.RoleTool {
			role = llm.RoleUser
		}
		ollamaMsg := api.Message{Role: string(role), Content: msg.Content}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			args := api.NewToolCallFunctionArguments()
			for k, v := range tc.Parameters {
				args.Set(k, v)
			}
			ollamaMsg.ToolCalls = append(ollamaMsg.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		result = append(result, ollamaMsg)
	}
	return result, nil
}

// convertToolsToOllama converts our tool definitions to Ollama's Tool format.
func convertToolsToOllama(toolDefs []llm.ToolDefinition) api.Tools {
	ollamaTools := make(api.Tools, len(toolDefs))
	for i := range toolDefs {
		td := &toolDefs[i]
		properties := api.NewToolPropertiesMap()
		for name := range td.InputSchema.Properties {
			prop := td.InputSchema.Properties[name]
			properties.Set(name, convertPropertyToOllama(&prop))
		}

		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   td.InputSchema.Required,
				},
			},
		}
	}
	return ollamaTools
}

func convertPropertyToOllama(prop *llm.Property) api.ToolProperty {
	ollamaProp := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		ollamaProp.Enum = enumVals
	}
	switch {
	case prop.Items != nil:
		ollamaProp.Items = convertPropertyToOllama(prop.Items)
	case prop.Properties != nil:
		nested := make(map[string]api.ToolProperty, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertPropertyToOllama(child)
			}
		}
		ollamaProp.Items = map[string]any{
			"type":       "object",
			"properties": nested,
		}
	}
	return ollamaProp
}

func convertResponse(resp *api.ChatResponse) llm.CompletionResponse {
	result := llm.CompletionResponse{
		Content:    resp.Message.Content,
		StopReason: getStopReason(resp),
		Usage: llm.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}
	if len(resp.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCallsFromOllama(resp.Message.ToolCalls)
		result.StopReason = "tool_use"
	}
	return result
}

// convertToolCallsFromOllama extracts tool calls, generating IDs the server left blank.
func convertToolCallsFromOllama(calls []api.ToolCall) []llm.ToolCall {
	result := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		params := call.Function.Arguments.ToMap()
		if params == nil {
			params = map[string]any{}
		}
		result[i] = llm.ToolCall{ID: id, Name: call.Function.Name, Parameters: params}
	}
	return result
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types. A missing model is
// reported as a bad prompt so it is not retried.
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %s", statusErr.ErrorMessage))
		}
		return llmerrors.Classify(err, statusErr.StatusCode)
	}

	errStr := err.Error()
	if strings.Contains(errStr, "model") && strings.Contains(errStr, "not found") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %v", err))
	}
	if strings.Contains(errStr, "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable: %v", err))
	}
	return llmerrors.Classify(err, 0)
}
