package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// ScriptStep is one scripted model turn: either a response or an error.
type ScriptStep struct {
	Err      error
	Response llm.CompletionResponse
}

// Reply scripts a plain text answer.
func Reply(content string) ScriptStep {
	return ScriptStep{Response: llm.CompletionResponse{Content: content, StopReason: "end_turn"}}
}

// CallTool scripts a single tool call.
func CallTool(id, name string, params map[string]any) ScriptStep {
	return ScriptStep{Response: llm.CompletionResponse{
		ToolCalls:  []llm.ToolCall{{ID: id, Name: name, Parameters: params}},
		StopReason: "tool_use",
	}}
}

// Fail scripts an error.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

// MockLLMClient provides a controllable implementation of llm.LLMClient for testing.
// Steps are consumed in order; every request is recorded.
type MockLLMClient struct {
	mu       sync.Mutex
	steps    []ScriptStep
	next     int
	requests []llm.CompletionRequest
	model    string
}

// NewMockLLMClient creates a new mock client with a script of turns.
func NewMockLLMClient(steps ...ScriptStep) *MockLLMClient {
	return &MockLLMClient{steps: steps, model: "mock-model"}
}

func (m *MockLLMClient) take(req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.next >= len(m.steps) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses (call %d)", m.next+1)
	}
	step := m.steps[m.next]
	m.next++
	return step.Response, step.Err
}

// Complete returns the next scripted response or error.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err
	}
	return m.take(req)
}

// Stream emits the next scripted response word by word, with tool calls and Done last.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (m *MockLLMClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := m.take(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk, 8)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			select {
			case ch <- llm.StreamChunk{Content: word}:
			case <-ctx.Done():
				return
			}
		}
		usage := resp.Usage
		select {
		case ch <- llm.StreamChunk{ToolCalls: resp.ToolCalls, Usage: &usage, Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// GetModelName returns the mock model name.
func (m *MockLLMClient) GetModelName() string {
	return m.model
}

// Requests returns a copy of every request received so far.
func (m *MockLLMClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

// Remaining reports how many scripted steps have not been consumed.
func (m *MockLLMClient) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps) - m.next
}
