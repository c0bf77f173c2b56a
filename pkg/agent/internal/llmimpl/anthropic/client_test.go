package anthropic

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
)

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		errContains  string
	}{
		{
			name:        "empty messages",
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful",
			expectMsgLen: 1,
		},
		{
			name: "multiple system messages concatenated",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("You are helpful"),
				llm.NewSystemMessage("And concise"),
				llm.NewUserMessage("Hello"),
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectMsgLen: 1,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewUserMessage("Anyone there?"),
			},
			expectMsgLen: 1,
		},
		{
			name: "ending with assistant is allowed",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("Hello"),
				llm.NewAssistantMessage("Hi"),
			},
			expectMsgLen: 2,
		},
		{
			name: "starting with assistant rejected",
			input: []llm.CompletionMessage{
				llm.NewAssistantMessage("Hi"),
				llm.NewUserMessage("Hello"),
			},
			errContains: "first message must be user",
		},
		{
			name:        "unknown role",
			input:       []llm.CompletionMessage{{Role: "narrator", Content: "x"}},
			errContains: "unsupported message role",
		},
		{
			name: "tool round trip",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("write add"),
				llm.NewAssistantMessage("", llm.ToolCall{ID: "toolu_1", Name: "coding_tool", Parameters: map[string]any{"code_instructions": "add"}}),
				llm.NewToolResultMessage(llm.ToolResult{ToolCallID: "toolu_1", Name: "coding_tool", Content: "def add(a, b): return a + b"}),
			},
			expectMsgLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, system, err := convertMessages(tt.input)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if system != tt.expectSystem {
				t.Errorf("expected system %q, got %q", tt.expectSystem, system)
			}
			if len(msgs) != tt.expectMsgLen {
				t.Errorf("expected %d messages, got %d", tt.expectMsgLen, len(msgs))
			}
		})
	}
}

func TestToolBlocksPlacement(t *testing.T) {
	msgs, _, err := convertMessages([]llm.CompletionMessage{
		llm.NewUserMessage("write add"),
		llm.NewAssistantMessage("On it", llm.ToolCall{ID: "toolu_1", Name: "coding_tool", Parameters: map[string]any{"code_instructions": "add"}}),
		llm.NewToolResultMessage(llm.ToolResult{ToolCallID: "toolu_1", Content: "failed", IsError: true}),
		llm.NewUserMessage("thanks"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected tool result and follow-up to merge into one user turn, got %d turns", len(msgs))
	}

	assistant := msgs[1]
	if assistant.Role != anthropic.MessageParamRoleAssistant || len(assistant.Content) != 2 {
		t.Fatalf("unexpected assistant turn: %+v", assistant)
	}
	if use := assistant.Content[1].OfToolUse; use == nil || use.ID != "toolu_1" || use.Name != "coding_tool" {
		t.Errorf("expected tool_use block, got %+v", assistant.Content[1])
	}

	user := msgs[2]
	if user.Role != anthropic.MessageParamRoleUser || len(user.Content) != 2 {
		t.Fatalf("unexpected user turn: %+v", user)
	}
	result := user.Content[0].OfToolResult
	if result == nil || result.ToolUseID != "toolu_1" || !result.IsError.Value {
		t.Errorf("expected error tool_result first, got %+v", user.Content[0])
	}
}

func TestBuildParams(t *testing.T) {
	c := NewClaudeClient("test-key", "claude-sonnet-4-5")
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewSystemMessage("sys"), llm.NewUserMessage("hi")})
	req.MaxTokens = 0
	req.Tools = []llm.ToolDefinition{{
		Name:        "coding_tool",
		Description: "Write a program",
		InputSchema: llm.InputSchema{
			Type:       "object",
			Properties: map[string]llm.Property{"code_instructions": {Type: "string"}},
			Required:   []string{"code_instructions"},
		},
	}}

	params, err := c.buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MaxTokens != llm.DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("unexpected system blocks: %+v", params.System)
	}
	if params.ToolChoice.OfAuto == nil {
		t.Errorf("expected auto tool choice")
	}
	tool := params.Tools[0].OfTool
	if tool == nil || tool.Name != "coding_tool" || tool.Description.Value != "Write a program" {
		t.Fatalf("unexpected tool: %+v", params.Tools[0])
	}

	req.ToolChoice = "any"
	params, _ = c.buildParams(req)
	if params.ToolChoice.OfAny == nil {
		t.Errorf("expected any tool choice")
	}
}

func TestConvertMessage(t *testing.T) {
	var msg anthropic.Message
	raw := `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
		"content": [
			{"type": "text", "text": "Writing it now."},
			{"type": "tool_use", "id": "toolu_1", "name": "coding_tool", "input": {"code_instructions": "add two numbers"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	resp, err := convertMessage(&msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Writing it now." || resp.StopReason != "tool_use" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Parameters["code_instructions"] != "add two numbers" {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	if _, err := convertMessage(nil); !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	apiErr := &anthropic.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	err := classifyError(apiErr)
	if !llmerrors.Is(err, llmerrors.ErrorTypeRateLimit) {
		t.Errorf("expected rate limit, got %v", err)
	}
	var unwrapped *anthropic.Error
	if !errors.As(err, &unwrapped) {
		t.Errorf("expected SDK error to remain reachable")
	}

	if !llmerrors.Is(classifyError(errors.New("read: connection reset by peer")), llmerrors.ErrorTypeTransient) {
		t.Errorf("expected transient classification for network error")
	}
}
