package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// ParamCodeInstructions is the single parameter of coding_tool.
const ParamCodeInstructions = "code_instructions"

const codingToolDescription = "Use this tool to write a program given a set of requirements and or instructions."

// ErrEmptyResult is returned when code generation finished without producing any text.
var ErrEmptyResult = errors.New("code generation produced no output")

// CodeGenerator turns natural-language instructions into a program. The crew implements it.
type CodeGenerator interface {
	Generate(ctx context.Context, instructions string) (string, error)
}

// CodingTool hands the model's code instructions to a CodeGenerator.
type CodingTool struct {
	gen CodeGenerator
}

// NewCodingTool creates a coding_tool instance backed by gen.
func NewCodingTool(gen CodeGenerator) *CodingTool {
	return &CodingTool{gen: gen}
}

// Name returns the tool identifier.
func (c *CodingTool) Name() ToolName {
	return ToolCoding
}

// Definition returns the tool's definition as presented to the model.
func (c *CodingTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        string(ToolCoding),
		Description: codingToolDescription,
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				ParamCodeInstructions: {
					Type:        "string",
					Description: "Complete requirements for the program, including any test cases the user supplied",
				},
			},
			Required: []string{ParamCodeInstructions},
		},
	}
}

// PromptDocumentation returns markdown documentation for LLM prompts.
func (c *CodingTool) PromptDocumentation() string {
	return `- **coding_tool** - ` + codingToolDescription + `
  - Parameters:
    - code_instructions (string, required): everything the engineers need, including user test cases
  - Returns the program together with a QA review`
}

// Exec runs code generation. Generator failures are wrapped in *ExecError; an empty
// result is an error rather than an empty tool message.
func (c *CodingTool) Exec(ctx context.Context, params map[string]any) (string, error) {
	instructions, err := stringParam(params, ParamCodeInstructions)
	if err != nil {
		return "", err
	}

	out, err := c.gen.Generate(ctx, instructions)
	if err != nil {
		return "", &ExecError{Tool: ToolCoding, Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &ExecError{Tool: ToolCoding, Err: ErrEmptyResult}
	}
	return out, nil
}
