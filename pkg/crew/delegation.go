package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/toolloop"
)

// Delegation tool names.
const (
	ToolDelegateWork = "delegate_work"
	ToolAskQuestion  = "ask_question"
)

const (
	delegateExpectedOutput = "Your best answer to your coworker asking you this, accounting for the context shared."
	questionExpectedOutput = "Your best answer to your coworker asking you this question, accounting for the context shared."
)

// coworkerRunner runs a sub-task as the given role one level deeper.
type coworkerRunner func(ctx context.Context, roleKey, prompt string) (string, error)

// delegationTool lets a role hand work or a question to a coworker.
type delegationTool struct {
	prompts *Prompts
	run     coworkerRunner
	metrics *Metrics
	// byRole maps a lowercase role title to its key.
	byRole  map[string]string
	name    string
	subject string
	titles  []string
}

func newDelegationTools(p *Prompts, coworkerKeys []string, run coworkerRunner, m *Metrics) []toolloop.Tool {
	byRole := make(map[string]string, len(coworkerKeys))
	titles := make([]string, 0, len(coworkerKeys))
	for _, key := range coworkerKeys {
		title := strings.TrimSpace(p.Roles[key].Role)
		byRole[strings.ToLower(title)] = key
		titles = append(titles, title)
	}

	return []toolloop.Tool{
		&delegationTool{prompts: p, run: run, metrics: m, byRole: byRole, titles: titles, name: ToolDelegateWork, subject: "task"},
		&delegationTool{prompts: p, run: run, metrics: m, byRole: byRole, titles: titles, name: ToolAskQuestion, subject: "question"},
	}
}

func (d *delegationTool) Definition() llm.ToolDefinition {
	description := "Delegate a specific task to one of your coworkers. Provide all necessary context, because they know nothing about the task otherwise."
	subjectHelp := "The task to delegate"
	if d.name == ToolAskQuestion {
		description = "Ask a specific question to one of your coworkers. Provide all necessary context, because they know nothing about the question otherwise."
		subjectHelp = "The question to ask"
	}

	return llm.ToolDefinition{
		Name:        d.name,
		Description: description,
		InputSchema: llm.InputSchema{
			Type: "object",
			Properties: map[string]llm.Property{
				d.subject: {Type: "string", Description: subjectHelp},
				"context": {Type: "string", Description: "Everything the coworker needs to know"},
				"coworker": {
					Type:        "string",
					Description: "The role of the coworker",
					Enum:        d.titles,
				},
			},
			Required: []string{d.subject, "context", "coworker"},
		},
	}
}

// Exec runs the coworker. Bad arguments go back to the model; a coworker failure is fatal.
func (d *delegationTool) Exec(ctx context.Context, params map[string]any) (string, error) {
	subject, _ := params[d.subject].(string)
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%s is required", d.subject)
	}
	sharedContext, _ := params["context"].(string)
	coworker, _ := params["coworker"].(string)

	key, ok := d.byRole[strings.ToLower(strings.TrimSpace(coworker))]
	if !ok {
		return "", fmt.Errorf("%w %q, choose one of: %s", ErrUnknownCoworker, coworker, strings.Join(d.titles, ", "))
	}

	expected := delegateExpectedOutput
	if d.name == ToolAskQuestion {
		expected = questionExpectedOutput
	}
	prompt, err := d.prompts.TaskPrompt(subject, expected, sharedContext)
	if err != nil {
		return "", toolloop.Fatal(err)
	}

	d.metrics.observeDelegation(d.name, key)
	out, err := d.run(ctx, key, prompt)
	if err != nil {
		return "", toolloop.Fatal(fmt.Errorf("coworker %s: %w", key, err))
	}
	return out, nil
}
