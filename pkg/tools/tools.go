// Package tools holds the closed set of tools the conversation model may call.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// ToolName identifies a tool in the registry. Only the constants below are valid.
type ToolName string

// Tool name constants - use these instead of magic strings.
const (
	ToolCoding ToolName = "coding_tool"
)

var (
	// ErrUnknownTool is returned when the model calls a name outside the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool parameters fail validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ExecError wraps a failure raised while a tool was running.
type ExecError struct {
	Err  error
	Tool ToolName
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Tool is the contract every registered tool satisfies.
type Tool interface {
	// Name returns the registry key.
	Name() ToolName

	// Definition returns the name, description and parameter schema shown to the model.
	Definition() llm.ToolDefinition

	// PromptDocumentation returns a markdown snippet describing the tool for system prompts.
	PromptDocumentation() string

	// Exec runs the tool synchronously and returns its text result.
	Exec(ctx context.Context, params map[string]any) (string, error)
}

// stringParam extracts a required non-blank string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArguments, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArguments, key, raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidArguments, key)
	}
	return s, nil
}
