package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/templates"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/tools"
)

type fakeCrew struct {
	err   error
	mu    sync.Mutex
	out   string
	calls []string
}

func (f *fakeCrew) Generate(_ context.Context, instructions string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, instructions)
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func codingCall(id, instructions string) agent.ScriptStep {
	return agent.CallTool(id, string(tools.ToolCoding), map[string]any{"code_instructions": instructions})
}

func newTestOrchestrator(t *testing.T, client llm.LLMClient, crew tools.CodeGenerator, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	renderer, err := templates.NewRenderer("")
	require.NoError(t, err)
	o, err := New(client, tools.NewRegistry(crew), renderer, cfg, opts...)
	require.NoError(t, err)
	return o
}

func stepsOf(turn *Turn) []Step {
	steps := make([]Step, 0, len(turn.Steps))
	for _, s := range turn.Steps {
		steps = append(steps, s.Step)
	}
	return steps
}

func TestPlainAnswerTakesOneAgentStep(t *testing.T) {
	client := agent.NewMockLLMClient(agent.Reply("What language should the function be in?"))
	crew := &fakeCrew{out: "unused"}
	o := newTestOrchestrator(t, client, crew, Config{MaxTokens: 4096})

	in := NewState(UserMessage("Write a function that adds two numbers"))
	turn, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []Step{StepAgent}, stepsOf(turn))
	require.Len(t, turn.State.Messages, 2)
	assert.Equal(t, in.Messages[0], turn.State.Messages[0])
	assert.Equal(t, AssistantMessage("What language should the function be in?"), turn.State.Messages[1])
	assert.Empty(t, crew.calls)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[0].Content, "Lead Software Engineer Manager")
	assert.Contains(t, reqs[0].Messages[0].Content, "**coding_tool**")
	assert.Equal(t, "Write a function that adds two numbers", reqs[0].Messages[1].Content)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "coding_tool", reqs[0].Tools[0].Name)
	assert.Equal(t, 4096, reqs[0].MaxTokens)
}

func TestToolCallRunsCrewThenReturnsToModel(t *testing.T) {
	client := agent.NewMockLLMClient(
		codingCall("call_1", "Python function add(a, b) returning a+b; test: add(2, 3) == 5"),
		agent.Reply("Here is your function, with the test you asked for."),
	)
	crew := &fakeCrew{out: "def add(a, b):\n    return a + b\n\nassert add(2, 3) == 5"}
	o := newTestOrchestrator(t, client, crew, Config{})

	turn, err := o.Run(context.Background(), NewState(UserMessage("add two numbers in python, add(2,3) must be 5")))
	require.NoError(t, err)

	assert.Equal(t, []Step{StepAgent, StepTool, StepAgent}, stepsOf(turn))
	assert.Equal(t, "call_1", turn.Steps[1].ToolCallID)
	assert.Equal(t, "coding_tool", turn.Steps[1].ToolName)
	assert.Equal(t, []string{"Python function add(a, b) returning a+b; test: add(2, 3) == 5"}, crew.calls)

	msgs := turn.State.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, Message{Role: RoleTool, Content: crew.out, ToolCallID: "call_1", Name: "coding_tool"}, msgs[2])
	assert.Equal(t, RoleAssistant, msgs[3].Role)
	assert.Empty(t, msgs[3].ToolCalls)

	// The raw tool output reaches the model, which phrases the answer.
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call_1", last.ToolResults[0].ToolCallID)
	assert.Equal(t, crew.out, last.ToolResults[0].Content)
}

func TestMultipleToolCallsRunInOrder(t *testing.T) {
	client := agent.NewMockLLMClient(
		agent.ScriptStep{Response: llm.CompletionResponse{ToolCalls: []llm.ToolCall{
			{ID: "a", Name: "coding_tool", Parameters: map[string]any{"code_instructions": "first"}},
			{ID: "b", Name: "coding_tool", Parameters: map[string]any{"code_instructions": "second"}},
		}}},
		agent.Reply("Both programs are ready."),
	)
	crew := &fakeCrew{out: "code"}
	o := newTestOrchestrator(t, client, crew, Config{})

	turn, err := o.Run(context.Background(), NewState(UserMessage("two programs")))
	require.NoError(t, err)

	assert.Equal(t, []Step{StepAgent, StepTool, StepTool, StepAgent}, stepsOf(turn))
	assert.Equal(t, []string{"first", "second"}, crew.calls)
	msgs := turn.State.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "a", msgs[2].ToolCallID)
	assert.Equal(t, "b", msgs[3].ToolCallID)

	// Both results travel to the model in one tool message.
	reqs := client.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Len(t, last.ToolResults, 2)
}

func TestUnknownToolFailsTurn(t *testing.T) {
	client := agent.NewMockLLMClient(agent.CallTool("call_1", "shell", map[string]any{"cmd": "ls"}))
	crew := &fakeCrew{out: "unused"}
	o := newTestOrchestrator(t, client, crew, Config{})

	in := NewState(UserMessage("list files"))
	out, err := o.Invoke(context.Background(), in)

	require.ErrorIs(t, err, tools.ErrUnknownTool)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepTool, stepErr.Step)
	assert.Equal(t, in, out)
	assert.Empty(t, crew.calls)
}

func TestCrewFailureDiscardsTurn(t *testing.T) {
	crewErr := errors.New("evaluate_task failed")
	client := agent.NewMockLLMClient(codingCall("call_1", "fizzbuzz"), agent.Reply("never used"))
	o := newTestOrchestrator(t, client, &fakeCrew{err: crewErr}, Config{})

	history := NewState(UserMessage("fizzbuzz please"), AssistantMessage("Which language?"), UserMessage("Go"))
	out, err := o.Invoke(context.Background(), history)

	require.ErrorIs(t, err, crewErr)
	var execErr *tools.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, history, out, "no dangling tool call and no fabricated answer")
	assert.Equal(t, 1, client.Remaining())
}

func TestModelFailurePropagates(t *testing.T) {
	quota := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota exceeded")
	client := agent.NewMockLLMClient(agent.Fail(quota))
	o := newTestOrchestrator(t, client, &fakeCrew{}, Config{})

	in := NewState(UserMessage("hi"))
	out, err := o.Invoke(context.Background(), in)

	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepAgent, stepErr.Step)
	assert.Equal(t, in, out)
}

func TestModelFailureAfterToolDiscardsWholeTurn(t *testing.T) {
	client := agent.NewMockLLMClient(codingCall("call_1", "x"), agent.Fail(errors.New("connection reset")))
	crew := &fakeCrew{out: "code"}
	o := newTestOrchestrator(t, client, crew, Config{})

	in := NewState(UserMessage("x"))
	out, err := o.Invoke(context.Background(), in)

	require.Error(t, err)
	assert.Equal(t, in, out)
	assert.Len(t, crew.calls, 1)
}

func TestToolRoundLimit(t *testing.T) {
	client := agent.NewMockLLMClient(
		codingCall("call_1", "v1"),
		codingCall("call_2", "v2"),
		agent.Reply("unused"),
	)
	crew := &fakeCrew{out: "code"}
	o := newTestOrchestrator(t, client, crew, Config{MaxToolRounds: 1})

	_, err := o.Invoke(context.Background(), NewState(UserMessage("loop")))
	require.ErrorIs(t, err, ErrToolRoundLimit)
	assert.Equal(t, []string{"v1"}, crew.calls)
}

func TestEmptyModelAnswerFailsTurn(t *testing.T) {
	client := agent.NewMockLLMClient(agent.Reply("   "))
	o := newTestOrchestrator(t, client, &fakeCrew{}, Config{})

	_, err := o.Invoke(context.Background(), NewState(UserMessage("hi")))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
}

func TestInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, agent.NewMockLLMClient(), &fakeCrew{}, Config{})

	_, err := o.Invoke(context.Background(), State{})
	require.ErrorIs(t, err, ErrEmptyConversation)

	pending := NewState(UserMessage("x"), AssistantMessage("", llm.ToolCall{ID: "c", Name: "coding_tool"}))
	out, err := o.Invoke(context.Background(), pending)
	require.ErrorIs(t, err, ErrPendingToolCalls)
	assert.Equal(t, pending, out)
}

func TestMissingToolCallIDIsAssigned(t *testing.T) {
	client := agent.NewMockLLMClient(codingCall("", "x"), agent.Reply("done"))
	o := newTestOrchestrator(t, client, &fakeCrew{out: "code"}, Config{})

	out, err := o.Invoke(context.Background(), NewState(UserMessage("x")))
	require.NoError(t, err)

	id := out.Messages[1].ToolCalls[0].ID
	assert.True(t, strings.HasPrefix(id, "call_"))
	assert.Equal(t, id, out.Messages[2].ToolCallID)
}

func TestInputIsNotAliased(t *testing.T) {
	msgs := make([]Message, 1, 16)
	msgs[0] = UserMessage("hi")
	in := State{Messages: msgs}

	client := agent.NewMockLLMClient(agent.Reply("hello"))
	o := newTestOrchestrator(t, client, &fakeCrew{}, Config{})

	out, err := o.Invoke(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Len(t, in.Messages, 1)
	assert.Equal(t, Message{}, msgs[:2][1], "backing array of the input must not be written")
}

func TestStreamingForwardsText(t *testing.T) {
	client := agent.NewMockLLMClient(
		codingCall("call_1", "sort numbers"),
		agent.Reply("Here is the sorted list program."),
	)
	var chunks []string
	o := newTestOrchestrator(t, client, &fakeCrew{out: "sorted(xs)"}, Config{},
		WithStreamHandler(func(c string) { chunks = append(chunks, c) }))

	out, err := o.Invoke(context.Background(), NewState(UserMessage("sort")))
	require.NoError(t, err)

	assert.Equal(t, "Here is the sorted list program.", strings.Join(chunks, ""))
	last, ok := out.Last()
	require.True(t, ok)
	assert.Equal(t, "Here is the sorted list program.", last.Content)
	require.Len(t, out.Messages[1].ToolCalls, 1, "tool calls are collected from the stream")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	client := agent.NewMockLLMClient(codingCall("call_1", "x"), agent.Reply("done"))
	o := newTestOrchestrator(t, client, &fakeCrew{out: "code"}, Config{}, WithMetrics(m))

	_, err := o.Invoke(context.Background(), NewState(UserMessage("x")))
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.stepsTotal.WithLabelValues(string(StepAgent), "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stepsTotal.WithLabelValues(string(StepTool), "success")), 0)
	count, err := testutil.GatherAndCount(reg, "orchestrator_turn_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestToCompletionMessages(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "coding_tool"}
	msgs := []Message{
		UserMessage("u"),
		AssistantMessage("", call, llm.ToolCall{ID: "c2", Name: "coding_tool"}),
		ToolMessage(call, "r1"),
		ToolMessage(llm.ToolCall{ID: "c2", Name: "coding_tool"}, "r2"),
		AssistantMessage("a"),
	}

	out := toCompletionMessages("sys", msgs)
	require.Len(t, out, 5)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Equal(t, llm.RoleUser, out[1].Role)
	assert.Len(t, out[2].ToolCalls, 2)
	assert.Equal(t, llm.RoleTool, out[3].Role)
	require.Len(t, out[3].ToolResults, 2)
	assert.Equal(t, "c2", out[3].ToolResults[1].ToolCallID)
	assert.Equal(t, "a", out[4].Content)
}

func TestMetricsExportStepsBeforeTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	count, err := testutil.GatherAndCount(reg, "orchestrator_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "AGENT and TOOL, each with success and error")
}

func TestInvalidRequestFailsBeforeModelCall(t *testing.T) {
	client := agent.NewMockLLMClient()
	o := newTestOrchestrator(t, client, &fakeCrew{}, Config{Temperature: 2.5})

	in := NewState(UserMessage("hello"))
	out, err := o.Invoke(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid completion request")
	assert.Contains(t, err.Error(), "temperature")
	assert.Equal(t, in, out)
	assert.Empty(t, client.Requests())
}

func TestTransitionDebugLinesNameOrchestrator(t *testing.T) {
	var buf bytes.Buffer
	logx.SetOutput(&buf)
	logx.SetDebugConfig(true)
	t.Cleanup(func() {
		logx.SetOutput(nil)
		logx.SetDebugConfig(false)
	})

	client := agent.NewMockLLMClient(agent.Reply("Which language?"))
	o := newTestOrchestrator(t, client, &fakeCrew{}, Config{})
	_, err := o.Invoke(context.Background(), NewState(UserMessage("write a parser")))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[orchestrator] DEBUG: [orchestrator] State transition: END - AGENT")
	assert.NotContains(t, out, "[unknown]")
}

func TestStreamSeparatesAgentSteps(t *testing.T) {
	client := agent.NewMockLLMClient(
		agent.ScriptStep{Response: llm.CompletionResponse{
			Content:   "Handing this to the crew.",
			ToolCalls: []llm.ToolCall{{
				ID:         "call_1",
				Name:       string(tools.ToolCoding),
				Parameters: map[string]any{"code_instructions": "sort numbers"},
			}},
		}},
		agent.Reply("Here is the program."),
	)
	var chunks []string
	o := newTestOrchestrator(t, client, &fakeCrew{out: "sorted(xs)"}, Config{},
		WithStreamHandler(func(c string) { chunks = append(chunks, c) }))

	_, err := o.Invoke(context.Background(), NewState(UserMessage("sort")))
	require.NoError(t, err)
	assert.Equal(t, "Handing this to the crew.\n\nHere is the program.", strings.Join(chunks, ""))
}
