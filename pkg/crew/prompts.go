package crew

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/templates"
)

// Role keys in agents.yaml.
const (
	RoleSeniorEngineer = "senior_engineer_agent"
	RoleQAEngineer     = "chief_qa_engineer_agent"
)

// Task keys in tasks.yaml.
const (
	TaskCode     = "code_task"
	TaskEvaluate = "evaluate_task"
)

// taskOrder is the fixed sequential process: every run executes both, in this order.
var taskOrder = []string{TaskCode, TaskEvaluate}

// taskRoles binds each task to the only role allowed to run it.
var taskRoles = map[string]string{
	TaskCode:     RoleSeniorEngineer,
	TaskEvaluate: RoleQAEngineer,
}

// RoleConfig is one entry of agents.yaml.
type RoleConfig struct {
	Role            string `yaml:"role" validate:"required"`
	Goal            string `yaml:"goal" validate:"required"`
	Backstory       string `yaml:"backstory" validate:"required"`
	AllowDelegation bool   `yaml:"allow_delegation"`
}

// TaskConfig is one entry of tasks.yaml. Description may reference {{ .CodeInstructions }}.
// A nil Context means every earlier task's output.
type TaskConfig struct {
	Agent          string   `yaml:"agent" validate:"required"`
	Description    string   `yaml:"description" validate:"required"`
	ExpectedOutput string   `yaml:"expected_output" validate:"required"`
	Context        []string `yaml:"context"`
}

// Inputs are interpolated into task descriptions.
type Inputs struct {
	CodeInstructions string
}

// Prompts holds the validated role and task configurations together with the
// renderer for the role and task framing templates.
type Prompts struct {
	Roles map[string]RoleConfig
	Tasks map[string]TaskConfig

	descriptions map[string]*template.Template
	renderer     *templates.Renderer
}

var promptValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadPrompts reads agents.yaml and tasks.yaml through the renderer, so a prompts
// directory override applies to them as well.
func LoadPrompts(renderer *templates.Renderer) (*Prompts, error) {
	p := &Prompts{
		Roles:        map[string]RoleConfig{},
		Tasks:        map[string]TaskConfig{},
		descriptions: map[string]*template.Template{},
		renderer:     renderer,
	}

	if err := decodeYAML(renderer, templates.AgentsConfig, &p.Roles); err != nil {
		return nil, err
	}
	if err := decodeYAML(renderer, templates.TasksConfig, &p.Tasks); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	for name, task := range p.Tasks {
		tmpl, err := templates.Parse(name, task.Description)
		if err != nil {
			return nil, err
		}
		p.descriptions[name] = tmpl
	}
	return p, nil
}

func decodeYAML(renderer *templates.Renderer, name string, out any) error {
	data, err := renderer.ReadFile(name)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	return nil
}

func (p *Prompts) validate() error {
	for key, role := range p.Roles {
		if err := promptValidator.Struct(role); err != nil {
			return fmt.Errorf("agent %s: %w", key, err)
		}
	}

	for i, name := range taskOrder {
		task, ok := p.Tasks[name]
		if !ok {
			return fmt.Errorf("tasks config is missing %s", name)
		}
		if err := promptValidator.Struct(task); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		if task.Agent != taskRoles[name] {
			return fmt.Errorf("task %s must be assigned to %s, got %s", name, taskRoles[name], task.Agent)
		}
		if _, ok := p.Roles[task.Agent]; !ok {
			return fmt.Errorf("task %s references unknown agent %s", name, task.Agent)
		}
		for _, dep := range task.Context {
			if !slices.Contains(taskOrder[:i], dep) {
				return fmt.Errorf("task %s context %s is not an earlier task", name, dep)
			}
		}
	}
	if len(p.Tasks) != len(taskOrder) {
		return fmt.Errorf("tasks config must define exactly %v", taskOrder)
	}
	return nil
}

// Description renders a task description with the crew inputs.
func (p *Prompts) Description(task string, in Inputs) (string, error) {
	tmpl, ok := p.descriptions[task]
	if !ok {
		return "", fmt.Errorf("unknown task %s", task)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("failed to render task %s: %w", task, err)
	}
	return buf.String(), nil
}

// SystemPrompt renders the system prompt of a role, listing coworkers when it may delegate.
func (p *Prompts) SystemPrompt(role RoleConfig, coworkers []string) (string, error) {
	return p.renderer.Render(templates.RolePromptTemplate, &templates.TemplateData{
		Role:      role.Role,
		Goal:      role.Goal,
		Backstory: role.Backstory,
		Coworkers: coworkers,
	})
}

// TaskPrompt frames a task description, its expected output and any context.
func (p *Prompts) TaskPrompt(description, expectedOutput, context string) (string, error) {
	return p.renderer.Render(templates.TaskPromptTemplate, &templates.TemplateData{
		Description:    description,
		ExpectedOutput: expectedOutput,
		Context:        context,
	})
}

// coworkersOf returns role keys other than key, sorted for stable prompts.
func (p *Prompts) coworkersOf(key string) []string {
	keys := make([]string, 0, len(p.Roles))
	for k := range p.Roles {
		if k != key {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
