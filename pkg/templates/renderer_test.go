package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInstruction(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	out, err := r.Render(InstructionTemplate, &TemplateData{})
	require.NoError(t, err)
	assert.Contains(t, out, "Lead Software Engineer Manager")
	assert.Contains(t, out, "one question at a time")
	assert.Contains(t, out, "Keep the test cases")
	assert.NotContains(t, out, "## Tools")

	out, err = r.Render(InstructionTemplate, &TemplateData{ToolDocumentation: "- **coding_tool** - writes code"})
	require.NoError(t, err)
	assert.Contains(t, out, "## Tools\n\n- **coding_tool**")
}

func TestRenderRolePrompt(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	out, err := r.Render(RolePromptTemplate, &TemplateData{
		Role:      "QA",
		Goal:      "find bugs",
		Backstory: "Careful.",
		Coworkers: []string{"Senior Software Engineer", "Designer"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "You are QA. Careful.")
	assert.Contains(t, out, "Your personal goal is: find bugs")
	assert.Contains(t, out, "Senior Software Engineer, Designer")
	assert.Contains(t, out, "delegate_work")

	out, err = r.Render(RolePromptTemplate, &TemplateData{Role: "Dev", Goal: "code", Backstory: "Fast."})
	require.NoError(t, err)
	assert.NotContains(t, out, "delegate_work")
}

func TestRenderTaskPrompt(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	out, err := r.Render(TaskPromptTemplate, &TemplateData{
		Description:    "Write fizzbuzz",
		ExpectedOutput: "code",
		Context:        "previous output",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Current Task: Write fizzbuzz")
	assert.Contains(t, out, "expected criteria for your final answer: code")
	assert.Contains(t, out, "context you're working with:\nprevious output")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	_, err = r.Render(StateTemplate("nope.tpl.md"), &TemplateData{})
	require.Error(t, err)
}

func TestOverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instruction.tpl.md"), []byte("Custom {{ .ToolDocumentation }}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte("x: {}"), 0o600))

	r, err := NewRenderer(dir)
	require.NoError(t, err)

	out, err := r.Render(InstructionTemplate, &TemplateData{ToolDocumentation: "tools"})
	require.NoError(t, err)
	assert.Equal(t, "Custom tools", out)

	// Base-name match for files kept flat in the override directory.
	data, err := r.ReadFile(AgentsConfig)
	require.NoError(t, err)
	assert.Equal(t, "x: {}", string(data))

	// Files absent from the directory fall back to the embedded copy.
	data, err = r.ReadFile(TasksConfig)
	require.NoError(t, err)
	assert.Contains(t, string(data), "evaluate_task")
}

func TestOverrideWithBadTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instruction.tpl.md"), []byte("{{ .Broken"), 0o600))

	_, err := NewRenderer(dir)
	require.Error(t, err)
}
