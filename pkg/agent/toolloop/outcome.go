package toolloop

import (
	"fmt"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// OutcomeKind categorizes the result of a toolloop execution.
type OutcomeKind int

const (
	// OutcomeSuccess indicates the model produced a final answer without further tool calls.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeMaxIterations indicates MaxIterations was reached while the model still called tools.
	OutcomeMaxIterations

	// OutcomeLLMError indicates the LLM client failed (network, API error, etc.).
	OutcomeLLMError

	// OutcomeToolError indicates a tool returned a FatalError.
	OutcomeToolError

	// OutcomeCanceled indicates the context was canceled or timed out.
	OutcomeCanceled

	// OutcomeEmpty indicates the final answer had no content.
	OutcomeEmpty
)

// String returns human-readable name for OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeMaxIterations:
		return "MaxIterations"
	case OutcomeLLMError:
		return "LLMError"
	case OutcomeToolError:
		return "ToolError"
	case OutcomeCanceled:
		return "Canceled"
	case OutcomeEmpty:
		return "Empty"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Outcome represents the result of a toolloop execution.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Outcome struct {
	// Kind categorizes what happened during the loop.
	Kind OutcomeKind

	// Value is the model's final text. Only valid when Kind == OutcomeSuccess.
	Value string

	// Err is non-nil for every non-Success outcome.
	Err error

	// Iteration is the 1-indexed iteration count when the outcome occurred.
	Iteration int

	// ToolCalls counts the tool calls executed across all iterations.
	ToolCalls int

	// Usage sums provider-reported token usage across iterations.
	Usage llm.Usage

	// Messages is the full transcript including the final assistant message.
	Messages []llm.CompletionMessage
}

// OK reports whether the loop produced a final answer.
func (o *Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}
