// Package crew runs the two-role code-generation crew: a senior engineer writes
// the program, then a QA engineer reviews and corrects it. Tasks run strictly in
// sequence and any task failure aborts the run.
package crew

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/toolloop"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

const contextSeparator = "\n\n----------\n\n"

// Options bound every model call made by the crew.
type Options struct {
	Temperature        float32
	MaxTokens          int
	Timeout            time.Duration
	MaxDelegationDepth int
	MaxIterations      int
}

// OptionsFromSettings copies the crew section of the settings.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		Temperature:        s.Crew.Temperature,
		MaxTokens:          s.Crew.MaxTokens,
		Timeout:            s.Crew.Timeout,
		MaxDelegationDepth: s.Crew.MaxDelegationDepth,
		MaxIterations:      s.Crew.MaxIterations,
	}
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Task     string
	Role     string
	Output   string
	Usage    llm.Usage
	Duration time.Duration
}

// Result is a finished run. Output is the last task's output.
type Result struct {
	RunID  string
	Output string
	Tasks  []TaskOutput
}

// Crew is safe for concurrent use; each Kickoff is independent.
type Crew struct {
	client   llm.LLMClient
	prompts  *Prompts
	recorder RunRecorder
	metrics  *Metrics
	logger   *logx.Logger
	opts     Options
}

// Option customizes a Crew.
type Option func(*Crew)

// WithRunRecorder records every finished run.
func WithRunRecorder(r RunRecorder) Option {
	return func(c *Crew) { c.recorder = r }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Crew) { c.metrics = m }
}

// New creates a crew running every role on client.
func New(client llm.LLMClient, prompts *Prompts, opts Options, options ...Option) *Crew {
	c := &Crew{
		client:  client,
		prompts: prompts,
		opts:    opts,
		logger:  logx.NewLogger("crew"),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Generate runs the crew on instructions and returns the final program text.
func (c *Crew) Generate(ctx context.Context, instructions string) (string, error) {
	res, err := c.Kickoff(ctx, Inputs{CodeInstructions: instructions})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Kickoff runs code_task then evaluate_task. Both always run; a failure in either
// returns a *TaskError and no partial result.
func (c *Crew) Kickoff(ctx context.Context, in Inputs) (*Result, error) {
	ctx = logx.WithComponent(ctx, "crew")
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	run := &RunRecord{
		ID:           uuid.New().String(),
		Model:        c.client.GetModelName(),
		Instructions: in.CodeInstructions,
		StartedAt:    time.Now(),
	}
	c.logger.Info("🚀 Crew run %s started (%d chars of instructions)", run.ID, len(in.CodeInstructions))

	res, err := c.runTasks(ctx, in, run)

	run.FinishedAt = time.Now()
	run.Status = RunSucceeded
	if err != nil {
		run.Status, run.Error = RunFailed, err.Error()
		c.logger.Error("❌ Crew run %s failed after %s: %v", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), err)
	} else {
		c.logger.Info("✅ Crew run %s finished in %s", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	c.metrics.observeRun(err == nil)
	c.record(ctx, run)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Crew) runTasks(ctx context.Context, in Inputs, run *RunRecord) (*Result, error) {
	res := &Result{RunID: run.ID}
	outputs := make(map[string]string, len(taskOrder))

	for i, name := range taskOrder {
		task := c.prompts.Tasks[name]
		role := c.prompts.Roles[task.Agent]

		prompt, err := c.taskPrompt(name, task, in, taskOrder[:i], outputs)
		if err != nil {
			return nil, &TaskError{Task: name, Role: role.Role, Err: err}
		}

		c.logger.Info("📋 Task %s assigned to %s", name, role.Role)
		start := time.Now()
		out, usage, err := c.perform(ctx, task.Agent, prompt, 0)
		duration := time.Since(start)
		c.metrics.observeTask(name, err == nil, duration)

		rec := TaskRecord{Task: name, Role: task.Agent, Duration: duration, Usage: usage, OutputChars: len(out), Status: statusSuccess}
		if err != nil {
			rec.Status = statusFailure
			run.Tasks = append(run.Tasks, rec)
			return nil, &TaskError{Task: name, Role: role.Role, Err: err}
		}
		run.Tasks = append(run.Tasks, rec)

		outputs[name] = out
		res.Tasks = append(res.Tasks, TaskOutput{Task: name, Role: role.Role, Output: out, Usage: usage, Duration: duration})
		res.Output = out
		c.logger.Info("✅ Task %s completed in %.3gs (%d chars)", name, duration.Seconds(), len(out))
	}
	return res, nil
}

// taskPrompt renders the task with the outputs of its context tasks. A task without
// an explicit context sees every earlier output.
func (c *Crew) taskPrompt(name string, task TaskConfig, in Inputs, earlier []string, outputs map[string]string) (string, error) {
	description, err := c.prompts.Description(name, in)
	if err != nil {
		return "", err
	}

	deps := task.Context
	if deps == nil {
		deps = earlier
	}
	parts := make([]string, 0, len(deps))
	for _, dep := range deps {
		parts = append(parts, outputs[dep])
	}

	return c.prompts.TaskPrompt(description, task.ExpectedOutput, strings.Join(parts, contextSeparator))
}

// perform runs one prompt as roleKey. Roles that may delegate get the delegation
// tools until depth reaches MaxDelegationDepth. Usage includes coworker usage.
func (c *Crew) perform(ctx context.Context, roleKey, prompt string, depth int) (string, llm.Usage, error) {
	role, ok := c.prompts.Roles[roleKey]
	if !ok {
		return "", llm.Usage{}, fmt.Errorf("%w: %s", ErrUnknownCoworker, roleKey)
	}

	var (
		usage     llm.Usage
		tools     []toolloop.Tool
		coworkers []string
	)
	if role.AllowDelegation && depth < c.opts.MaxDelegationDepth {
		keys := c.prompts.coworkersOf(roleKey)
		for _, key := range keys {
			coworkers = append(coworkers, c.prompts.Roles[key].Role)
		}
		run := func(ctx context.Context, coworkerKey, subPrompt string) (string, error) {
			c.logger.Info("🤝 %s delegates to %s (depth %d)", role.Role, c.prompts.Roles[coworkerKey].Role, depth+1)
			out, sub, err := c.perform(ctx, coworkerKey, subPrompt, depth+1)
			usage.InputTokens += sub.InputTokens
			usage.OutputTokens += sub.OutputTokens
			return out, err
		}
		tools = newDelegationTools(c.prompts, keys, run, c.metrics)
	}

	system, err := c.prompts.SystemPrompt(role, coworkers)
	if err != nil {
		return "", usage, err
	}

	loop := toolloop.New(c.client, c.logger)
	out := loop.Run(ctx, &toolloop.Config{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(system),
			llm.NewUserMessage(prompt),
		},
		Tools:        tools,
		OnToolResult: func(call llm.ToolCall, result string, err error) {
			if err != nil {
				logx.Debug(ctx, "crew", "%s: %s failed: %v", role.Role, call.Name, err)
				return
			}
			logx.Debug(ctx, "crew", "%s: %s returned %d chars", role.Role, call.Name, len(result))
		},
		MaxIterations: c.opts.MaxIterations,
		MaxTokens:     c.opts.MaxTokens,
		Temperature:   c.opts.Temperature,
	})
	usage.InputTokens += out.Usage.InputTokens
	usage.OutputTokens += out.Usage.OutputTokens

	if !out.OK() {
		return "", usage, out.Err
	}
	return out.Value, usage, nil
}

func (c *Crew) record(ctx context.Context, run *RunRecord) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordRun(ctx, run); err != nil {
		c.logger.Warn("Failed to record crew run %s: %v", run.ID, err)
	}
}
