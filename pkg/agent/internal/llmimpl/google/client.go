// Package google provides the Gemini / Vertex AI client implementation of the LLM interface.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

// Config selects the backend. With Project set the client talks to Vertex AI using
// application default credentials; otherwise APIKey selects the Gemini API.
type Config struct {
	APIKey   string
	Project  string
	Location string
	Model    string
}

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates the raw client; middleware is applied at a higher level.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, config, err := buildRequest(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return convertResponse(result), nil
}

// Stream implements the llm.LLMClient interface using GenerateContentStream.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	contents, config, err := buildRequest(in)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *llm.Usage
		for result, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				send(llm.StreamChunk{Error: classifyError(err), Done: true})
				return
			}
			resp := convertResponse(result)
			if resp.Usage != (llm.Usage{}) {
				u := resp.Usage
				usage = &u
			}
			if resp.Content == "" && len(resp.ToolCalls) == 0 {
				continue
			}
			if !send(llm.StreamChunk{Content: resp.Content, ToolCalls: resp.ToolCalls}) {
				return
			}
		}
		send(llm.StreamChunk{Done: true, Usage: usage})
	}()
	return out, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func buildRequest(in llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return nil, nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // bounded by settings validation
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertToolsToGemini(in.Tools)},
		}
		mode := genai.FunctionCallingConfigModeAuto
		if in.ToolChoice == "any" {
			mode = genai.FunctionCallingConfigModeAny
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	return contents, config, nil
}

// convertMessagesToGemini converts our message format to Gemini's Content format.
// System messages are folded into the returned system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var (
		systemInstruction string
		contents          []*genai.Content
	)

	for i := range messages {
		msg := &messages[i]

		var role string
		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content
			continue
		case llm.RoleUser, llm.RoleTool:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters},
			})
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			response := map[string]any{"output": tr.Content}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: tr.ToolCallID, Name: tr.Name, Response: response},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("conversation has no user or model content")
	}
	return contents, systemInstruction, nil
}

// convertToolsToGemini converts our tool definitions to Gemini's function declarations.
func convertToolsToGemini(toolDefs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(toolDefs))

	for i := range toolDefs {
		tool := &toolDefs[i]

		properties := make(map[string]*genai.Schema, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			prop := tool.InputSchema.Properties[name]
			properties[name] = convertPropertyToGeminiSchema(&prop)
		}

		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		}
	}

	return declarations
}

// convertPropertyToGeminiSchema recursively converts a Property to Gemini schema format.
func convertPropertyToGeminiSchema(prop *llm.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertPropertyToGeminiSchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			for name, child := range prop.Properties {
				if child != nil {
					schema.Properties[name] = convertPropertyToGeminiSchema(child)
				}
			}
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

func convertResponse(result *genai.GenerateContentResponse) llm.CompletionResponse {
	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: getStopReason(result),
	}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		resp.ToolCalls = convertFunctionCallsFromGemini(calls)
		resp.StopReason = "tool_use"
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp
}

// convertFunctionCallsFromGemini converts Gemini function calls to our format.
// Gemini does not always assign call IDs, so missing ones are generated.
func convertFunctionCallsFromGemini(calls []*genai.FunctionCall) []llm.ToolCall {
	toolCalls := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call == nil {
			continue
		}
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		toolCalls = append(toolCalls, llm.ToolCall{ID: id, Name: call.Name, Parameters: args})
	}
	return toolCalls
}

func getStopReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return "unknown"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return "refusal"
	default:
		return "end_turn"
	}
}

// classifyError maps genai errors onto llmerrors types.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llmerrors.Classify(err, apiErrPtr.Code)
	}
	return llmerrors.Classify(err, 0)
}
