// Package templates provides the prompt templates and crew prompt configurations.
// Everything is embedded; a prompts directory may override any file by name.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed *.tpl.md crew/*.tpl.md crew/*.yaml
var templateFS embed.FS

// TemplateData holds the data for template rendering.
//
//nolint:govet // fieldalignment: grouped by template
type TemplateData struct {
	// Instruction template.
	ToolDocumentation string

	// Role prompt.
	Role      string
	Goal      string
	Backstory string
	Coworkers []string

	// Task prompt.
	Description    string
	ExpectedOutput string
	Context        string
}

// StateTemplate names an embedded template file.
type StateTemplate string

const (
	// InstructionTemplate is the system instruction of the conversation model.
	InstructionTemplate StateTemplate = "instruction.tpl.md"
	// RolePromptTemplate is the system prompt of a crew role.
	RolePromptTemplate StateTemplate = "crew/role_prompt.tpl.md"
	// TaskPromptTemplate frames a crew task for the role running it.
	TaskPromptTemplate StateTemplate = "crew/task_prompt.tpl.md"
)

// Crew prompt configuration documents.
const (
	AgentsConfig = "crew/agents.yaml"
	TasksConfig  = "crew/tasks.yaml"
)

// Renderer handles template rendering.
type Renderer struct {
	templates map[StateTemplate]*template.Template
	dir       string
}

// NewRenderer parses every template. When dir is non-empty, files found there
// (same relative path, or same base name) replace the embedded ones.
func NewRenderer(dir string) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[StateTemplate]*template.Template),
		dir:       dir,
	}

	for _, name := range []StateTemplate{InstructionTemplate, RolePromptTemplate, TaskPromptTemplate} {
		content, err := r.ReadFile(string(name))
		if err != nil {
			return nil, err
		}
		tmpl, err := Parse(string(name), string(content))
		if err != nil {
			return nil, err
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Parse parses text with the shared helper functions. Missing keys are errors.
func Parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"join":     strings.Join,
			"contains": strings.Contains,
			"trim":     strings.TrimSpace,
		}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

// ReadFile returns the override file when one exists, otherwise the embedded copy.
func (r *Renderer) ReadFile(name string) ([]byte, error) {
	if r.dir != "" {
		for _, candidate := range []string{filepath.Join(r.dir, filepath.FromSlash(name)), filepath.Join(r.dir, filepath.Base(name))} {
			data, err := os.ReadFile(candidate)
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read template override %s: %w", candidate, err)
			}
		}
	}

	data, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return data, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName StateTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
