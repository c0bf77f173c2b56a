// Package openaiofficial provides OpenAI client implementation using the official OpenAI Go package.
package openaiofficial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient interface.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClient creates a raw chat completions client; middleware is applied at a higher level.
// Extra options are appended after the API key, which lets tests point the client at a local server.
func NewOfficialClient(apiKey, model string, opts ...option.RequestOption) *OfficialClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := o.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	return convertCompletion(resp)
}

// Stream implements the llm.LLMClient interface using the SDK's chunk accumulator.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := o.buildParams(in)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
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

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: classifyError(err), Done: true})
			return
		}

		final, err := convertCompletion(&acc.ChatCompletion)
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
func (o *OfficialClient) GetModelName() string {
	return o.model
}

//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *OfficialClient) buildParams(in llm.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		choice := openai.ChatCompletionToolChoiceOptionAutoAuto
		if in.ToolChoice == "any" {
			choice = openai.ChatCompletionToolChoiceOptionAutoRequired
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(choice))}
	}
	return params, nil
}

// convertMessages maps our messages onto chat completion params. Each tool result
// becomes its own tool message keyed by call ID.
func convertMessages(messages []llm.CompletionMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleUser, llm.RoleTool:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				content := tr.Content
				if tr.IsError {
					content = "ERROR: " + content
				}
				out = append(out, openai.ToolMessage(content, tr.ToolCallID))
			}
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("failed to encode arguments for %s: %w", tc.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return out, nil
}

func convertTools(defs []llm.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]any, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertPropertyToSchema(&prop)
		}
		required := def.InputSchema.Required
		if required == nil {
			required = []string{}
		}
		tools[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		}
	}
	return tools
}

// convertPropertyToSchema recursively converts a Property to OpenAI schema format.
func convertPropertyToSchema(prop *llm.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				properties[name] = convertPropertyToSchema(child)
			}
		}
		schema["properties"] = properties
	}
	return schema
}

func convertCompletion(resp *openai.ChatCompletion) (llm.CompletionResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no choices in OpenAI response")
	}

	choice := resp.Choices[0]
	out := llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: stopReason(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for i := range choice.Message.ToolCalls {
		call := &choice.Message.ToolCalls[i]
		params := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
					fmt.Sprintf("invalid arguments for tool %s", call.Function.Name))
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Function.Name, Parameters: params})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}
	return out, nil
}

func stopReason(finish string) string {
	switch finish {
	case "tool_calls", "function_call":
		return "tool_use"
	case "length":
		return "max_tokens"
	case "content_filter":
		return "refusal"
	default:
		return "end_turn"
	}
}

// classifyError maps OpenAI SDK errors to our structured error types.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return llmerrors.Classify(err, apiErr.StatusCode)
	}
	return llmerrors.Classify(err, 0)
}
