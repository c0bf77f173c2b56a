package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// Registry is the closed lookup table from tool name to handler.
// It is built once and never modified, so it is safe for concurrent use.
type Registry struct {
	tools map[ToolName]Tool
}

// NewRegistry builds the registry with every known tool wired to gen.
func NewRegistry(gen CodeGenerator) *Registry {
	return newRegistry(NewCodingTool(gen))
}

func newRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[ToolName]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; dup {
			panic(fmt.Sprintf("tool %q registered twice", t.Name()))
		}
		r.tools[t.Name()] = t
	}
	return r
}

// Lookup resolves a name the model produced. Names outside the closed set yield ErrUnknownTool.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[ToolName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// Definitions returns tool definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []ToolName {
	names := make([]ToolName, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Documentation concatenates every tool's prompt documentation.
func (r *Registry) Documentation() string {
	names := r.Names()
	docs := make([]string, 0, len(names))
	for _, name := range names {
		docs = append(docs, r.tools[name].PromptDocumentation())
	}
	return strings.Join(docs, "\n")
}

// Execute resolves call.Name and runs the tool with the call's parameters.
//
//nolint:gocritic // ToolCall passed by value to mirror llm response slices
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	t, err := r.Lookup(call.Name)
	if err != nil {
		return "", err
	}
	return t.Exec(ctx, call.Parameters)
}
