// Package orchestrator runs one conversation turn as a small state machine:
// AGENT asks the model, TOOL runs the tool calls it requested, END returns the
// answer. A failed turn leaves the caller's conversation untouched.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/templates"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/tools"
)

var (
	// ErrToolRoundLimit is returned when the model keeps requesting tools past Config.MaxToolRounds.
	ErrToolRoundLimit = errors.New("tool round limit exceeded")

	// ErrEmptyConversation is returned when Invoke receives no messages.
	ErrEmptyConversation = errors.New("conversation has no messages")

	// ErrPendingToolCalls is returned when the input ends with tool calls nobody answered.
	ErrPendingToolCalls = errors.New("conversation ends with unanswered tool calls")
)

// StepError reports the state in which a turn failed.
type StepError struct {
	Err  error
	Step Step
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Config bounds a turn.
type Config struct {
	MaxToolRounds int
	MaxTokens     int
	Temperature   float32
}

// ConfigFromSettings copies the chat model and orchestrator settings.
func ConfigFromSettings(s *config.Settings) Config {
	return Config{
		MaxToolRounds: s.Orchestrator.MaxToolRounds,
		MaxTokens:     s.LLM.MaxTokens,
		Temperature:   s.LLM.Temperature,
	}
}

const streamStepSeparator = "\n\n"

// StreamHandler receives assistant text deltas as they arrive.
type StreamHandler func(chunk string)

// StepRecord is one entry of a turn's trace. Tool steps carry the call they ran.
type StepRecord struct {
	Step       Step
	ToolName   string
	ToolCallID string
	Duration   time.Duration
}

// Turn is a completed turn: the new state and the steps taken to reach it.
type Turn struct {
	State State
	Steps []StepRecord

	// streamed is set once an AGENT step has forwarded text to the stream handler.
	streamed bool
}

// Orchestrator is safe for concurrent use across sessions; each call works on its own copy.
type Orchestrator struct {
	client      llm.LLMClient
	registry    *tools.Registry
	stream      StreamHandler
	metrics     *Metrics
	logger      *logx.Logger
	instruction string
	cfg         Config
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithStreamHandler makes AGENT steps stream and forward text deltas to h.
func WithStreamHandler(h StreamHandler) Option {
	return func(o *Orchestrator) { o.stream = h }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New renders the system instruction once and returns a ready orchestrator.
func New(client llm.LLMClient, registry *tools.Registry, renderer *templates.Renderer, cfg Config, opts ...Option) (*Orchestrator, error) {
	instruction, err := renderer.Render(templates.InstructionTemplate, &templates.TemplateData{
		ToolDocumentation: registry.Documentation(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render system instruction: %w", err)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = config.DefaultToolRounds
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}

	o := &Orchestrator{
		client:      client,
		registry:    registry,
		instruction: instruction,
		cfg:         cfg,
		logger:      logx.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Invoke runs the state machine from AGENT to END and returns the conversation with
// the turn's messages appended. On failure it returns the input state unchanged.
func (o *Orchestrator) Invoke(ctx context.Context, state State) (State, error) {
	turn, err := o.Run(ctx, state)
	if err != nil {
		return state, err
	}
	return turn.State, nil
}

// Run is Invoke with the step trace.
func (o *Orchestrator) Run(ctx context.Context, in State) (*Turn, error) {
	start := time.Now()
	ctx = logx.WithComponent(ctx, "orchestrator")

	if err := validateInput(in); err != nil {
		o.metrics.observeTurn(err, time.Since(start))
		return nil, err
	}

	st := in.Clone()
	turn := &Turn{}
	step, rounds := StepAgent, 0

	for step != StepEnd {
		var (
			next Step
			err  error
		)
		switch step {
		case StepAgent:
			next, err = o.agentStep(ctx, &st, turn)
		case StepTool:
			rounds++
			if rounds > o.cfg.MaxToolRounds {
				err = fmt.Errorf("%w (%d)", ErrToolRoundLimit, o.cfg.MaxToolRounds)
				break
			}
			next, err = o.toolStep(ctx, &st, turn)
		default:
			err = fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, step)
		}
		o.metrics.observeStep(step, err)
		if err == nil {
			err = transition(step, next)
		}
		if err != nil {
			o.metrics.observeTurn(err, time.Since(start))
			o.logger.Error("❌ Turn failed in %s after %s, conversation left unchanged: %v",
				step, time.Since(start).Round(time.Millisecond), err)
			return nil, &StepError{Step: step, Err: err}
		}

		logx.DebugState(ctx, "orchestrator", "transition", string(next), string(step))
		step = next
	}

	o.metrics.observeTurn(nil, time.Since(start))
	o.logger.Info("✅ Turn completed in %s: %d steps, %d new messages",
		time.Since(start).Round(time.Millisecond), len(turn.Steps), len(st.Messages)-len(in.Messages))
	turn.State = st
	return turn, nil
}

func validateInput(in State) error {
	last, ok := in.Last()
	if !ok {
		return ErrEmptyConversation
	}
	if last.Role == RoleAssistant && len(last.ToolCalls) > 0 {
		return ErrPendingToolCalls
	}
	return nil
}

// agentStep asks the model and appends exactly one assistant message.
func (o *Orchestrator) agentStep(ctx context.Context, st *State, turn *Turn) (Step, error) {
	start := time.Now()
	req := llm.CompletionRequest{
		Messages:    toCompletionMessages(o.instruction, st.Messages),
		Tools:       o.registry.Definitions(),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid completion request: %w", err)
	}

	o.logger.Info("🤖 AGENT: calling %s with %d messages", o.client.GetModelName(), len(req.Messages))
	resp, err := o.complete(ctx, req, turn)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Content) == "" {
		return "", llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "model returned neither text nor tool calls")
	}

	var calls []llm.ToolCall
	if len(resp.ToolCalls) > 0 {
		calls = append(calls, resp.ToolCalls...)
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.New().String()
		}
	}
	st.Messages = append(st.Messages, AssistantMessage(resp.Content, calls...))
	turn.Steps = append(turn.Steps, StepRecord{Step: StepAgent, Duration: time.Since(start)})

	if len(calls) > 0 {
		o.logger.Info("🔧 AGENT: model requested %d tool call(s)", len(calls))
		return StepTool, nil
	}
	return StepEnd, nil
}

// complete calls the model, streaming when a handler is installed. Text from a later
// AGENT step is separated from earlier streamed text by a blank line.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest, turn *Turn) (llm.CompletionResponse, error) {
	if o.stream == nil {
		return o.client.Complete(ctx, req) //nolint:wrapcheck // wrapped by agentStep
	}
	ch, err := o.client.Stream(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // wrapped by agentStep
	}
	started := false
	resp, err := llm.CollectStream(ch, func(chunk string) {
		if !started && turn.streamed {
			o.stream(streamStepSeparator)
		}
		started = true
		o.stream(chunk)
	})
	turn.streamed = turn.streamed || started
	if err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // wrapped by agentStep
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return llm.CompletionResponse{}, ctxErr //nolint:wrapcheck // wrapped by agentStep
	}
	return resp, nil
}

// toolStep runs each tool call of the last assistant message in order and appends
// one tool message per call. Any failure, including an unknown tool, fails the turn.
func (o *Orchestrator) toolStep(ctx context.Context, st *State, turn *Turn) (Step, error) {
	last, ok := st.Last()
	if !ok || last.Role != RoleAssistant || len(last.ToolCalls) == 0 {
		return "", fmt.Errorf("%w: TOOL entered without pending tool calls", ErrInvalidTransition)
	}

	for i := range last.ToolCalls {
		call := last.ToolCalls[i]
		start := time.Now()
		o.logger.Info("🛠️  TOOL: running %s (%s)", call.Name, call.ID)

		out, err := o.registry.Execute(ctx, call)
		if err != nil {
			return "", fmt.Errorf("tool call %s (%s): %w", call.Name, call.ID, err)
		}
		st.Messages = append(st.Messages, ToolMessage(call, out))
		turn.Steps = append(turn.Steps, StepRecord{
			Step:       StepTool,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Duration:   time.Since(start),
		})
		o.logger.Info("🛠️  TOOL: %s finished in %.3gs (%d chars)", call.Name, time.Since(start).Seconds(), len(out))
	}
	return StepAgent, nil
}
