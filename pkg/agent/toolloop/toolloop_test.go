package toolloop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/toolloop"
)

// echoTool returns its "text" parameter, or err when set.
type echoTool struct {
	name  string
	err   error
	calls []map[string]any
}

func (e *echoTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        e.name,
		Description: "Echo text back",
		InputSchema: llm.InputSchema{
			Type:       "object",
			Properties: map[string]llm.Property{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
	}
}

func (e *echoTool) Exec(_ context.Context, params map[string]any) (string, error) {
	e.calls = append(e.calls, params)
	if e.err != nil {
		return "", e.err
	}
	text, _ := params["text"].(string)
	return text, nil
}

func seed() []llm.CompletionMessage {
	return []llm.CompletionMessage{
		llm.NewSystemMessage("You are a Senior Software Engineer."),
		llm.NewUserMessage("Write add(a, b)."),
	}
}

func TestSingleCompletionWithoutTools(t *testing.T) {
	client := agent.NewMockLLMClient(agent.Reply("def add(a, b): return a + b"))
	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{Messages: seed()})

	require.True(t, out.OK(), "outcome: %s %v", out.Kind, out.Err)
	assert.Equal(t, "def add(a, b): return a + b", out.Value)
	assert.Equal(t, 1, out.Iteration)
	assert.Len(t, out.Messages, 3)
	assert.Empty(t, client.Requests()[0].Tools)
}

func TestToolResultsFedBack(t *testing.T) {
	echo := &echoTool{name: "echo"}
	client := agent.NewMockLLMClient(
		agent.CallTool("call_1", "echo", map[string]any{"text": "looks good"}),
		agent.Reply("Reviewed: looks good"),
	)

	var seen []string
	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{
		Messages: seed(),
		Tools:    []toolloop.Tool{echo},
		OnToolResult: func(call llm.ToolCall, result string, err error) {
			assert.NoError(t, err)
			seen = append(seen, call.Name+"="+result)
		},
	})

	require.True(t, out.OK())
	assert.Equal(t, "Reviewed: looks good", out.Value)
	assert.Equal(t, 1, out.ToolCalls)
	assert.Equal(t, []string{"echo=looks good"}, seen)

	second := client.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call_1", last.ToolResults[0].ToolCallID)
	assert.Equal(t, "looks good", last.ToolResults[0].Content)
}

func TestRecoverableToolErrorReportedToModel(t *testing.T) {
	echo := &echoTool{name: "echo", err: errors.New("no such coworker")}
	client := agent.NewMockLLMClient(
		agent.CallTool("call_1", "echo", map[string]any{"text": "x"}),
		agent.CallTool("call_2", "missing_tool", nil),
		agent.Reply("done anyway"),
	)

	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{Messages: seed(), Tools: []toolloop.Tool{echo}})
	require.True(t, out.OK())

	reqs := client.Requests()
	first := reqs[1].Messages[len(reqs[1].Messages)-1].ToolResults[0]
	assert.True(t, first.IsError)
	assert.Contains(t, first.Content, "no such coworker")

	second := reqs[2].Messages[len(reqs[2].Messages)-1].ToolResults[0]
	assert.True(t, second.IsError)
	assert.Contains(t, second.Content, "unknown tool")
}

func TestFatalToolErrorAborts(t *testing.T) {
	cause := errors.New("coworker model unavailable")
	echo := &echoTool{name: "echo", err: toolloop.Fatal(cause)}
	client := agent.NewMockLLMClient(agent.CallTool("call_1", "echo", map[string]any{"text": "x"}), agent.Reply("unused"))

	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{Messages: seed(), Tools: []toolloop.Tool{echo}})
	assert.Equal(t, toolloop.OutcomeToolError, out.Kind)
	assert.ErrorIs(t, out.Err, cause)
	assert.Equal(t, 1, client.Remaining())
}

func TestIterationLimit(t *testing.T) {
	echo := &echoTool{name: "echo"}
	client := agent.NewMockLLMClient(
		agent.CallTool("c1", "echo", map[string]any{"text": "a"}),
		agent.CallTool("c2", "echo", map[string]any{"text": "b"}),
		agent.CallTool("c3", "echo", map[string]any{"text": "c"}),
	)

	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{
		Messages:      seed(),
		Tools:         []toolloop.Tool{echo},
		MaxIterations: 2,
	})
	assert.Equal(t, toolloop.OutcomeMaxIterations, out.Kind)
	assert.ErrorIs(t, out.Err, toolloop.ErrMaxIterations)
	assert.Equal(t, 2, out.Iteration)
	assert.Len(t, echo.calls, 2)
}

func TestLLMErrorAndEmptyAnswer(t *testing.T) {
	boom := errors.New("boom")
	out := toolloop.New(agent.NewMockLLMClient(agent.Fail(boom)), nil).Run(context.Background(), &toolloop.Config{Messages: seed()})
	assert.Equal(t, toolloop.OutcomeLLMError, out.Kind)
	assert.ErrorIs(t, out.Err, boom)

	out = toolloop.New(agent.NewMockLLMClient(agent.Reply("  ")), nil).Run(context.Background(), &toolloop.Config{Messages: seed()})
	assert.Equal(t, toolloop.OutcomeEmpty, out.Kind)
	assert.ErrorIs(t, out.Err, toolloop.ErrNoActivity)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := toolloop.New(agent.NewMockLLMClient(agent.Reply("unused")), nil).Run(ctx, &toolloop.Config{Messages: seed()})
	assert.Equal(t, toolloop.OutcomeCanceled, out.Kind)
	assert.ErrorIs(t, out.Err, toolloop.ErrGracefulShutdown)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestMissingMessages(t *testing.T) {
	out := toolloop.New(agent.NewMockLLMClient(), nil).Run(context.Background(), &toolloop.Config{})
	assert.False(t, out.OK())
	assert.Error(t, out.Err)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "MaxIterations", toolloop.OutcomeMaxIterations.String())
	assert.Equal(t, "OutcomeKind(42)", toolloop.OutcomeKind(42).String())
}

func TestInvalidRequestNeverReachesModel(t *testing.T) {
	client := agent.NewMockLLMClient()
	out := toolloop.New(client, nil).Run(context.Background(), &toolloop.Config{
		Messages:    seed(),
		Tools:       []toolloop.Tool{&echoTool{}},
		Temperature: -1,
	})

	assert.False(t, out.OK())
	assert.Equal(t, toolloop.OutcomeLLMError, out.Kind)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "temperature")
	assert.Empty(t, client.Requests())
}
