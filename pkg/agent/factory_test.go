package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llmerrors"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
)

func testSettings(provider string) *config.Settings {
	s := config.Default()
	s.GoogleVertexAI.Project = "acme-dev"
	s.LLM.Provider = provider
	return &s
}

func TestFactoryProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")

	s := testSettings(config.ProviderAnthropic)
	s.LLM.Model = "claude-sonnet-4-5"
	_, err := NewLLMClientFactory(s, nil).ChatClient(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	s.LLM.APIKey = "sk-test"
	client, err := NewLLMClientFactory(s, nil).ChatClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModelName())

	s = testSettings(config.ProviderOpenAI)
	s.LLM.Model = "gpt-4o"
	s.LLM.APIKey = "sk-test"
	client, err = NewLLMClientFactory(s, nil).CrewClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.GetModelName(), "crew runs on the chat model outside google")

	s.Crew.Model = "gpt-4o-mini"
	client, err = NewLLMClientFactory(s, nil).CrewClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.GetModelName())

	s = testSettings(config.ProviderOllama)
	s.LLM.Model = "qwen2.5-coder:7b"
	client, err = NewLLMClientFactory(s, nil).ChatClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:7b", client.GetModelName())

	s = testSettings("bard")
	_, err = NewLLMClientFactory(s, nil).ChatClient(context.Background())
	assert.Error(t, err)
}

func TestDecorateRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)
	mock := NewMockLLMClient(Reply("Which language would you like?"))

	client := Decorate(mock, MiddlewareOptions{Recorder: recorder, Caller: CallerOrchestrator, Timeout: time.Second})
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("write code")}))
	require.NoError(t, err)
	assert.Equal(t, "Which language would you like?", resp.Content)

	count, err := testutil.GatherAndCount(reg, "llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDecorateDoesNotRetryAuthErrors(t *testing.T) {
	mock := NewMockLLMClient(Fail(llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 401, "bad key")), Reply("unused"))
	client := Decorate(mock, MiddlewareOptions{MaxAttempts: 3})

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, 1, mock.Remaining())
}

func TestMockLLMClientScript(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockLLMClient(
		CallTool("call_1", "coding_tool", map[string]any{"code_instructions": "add"}),
		Fail(boom),
	)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})

	resp, err := mock.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "coding_tool", resp.ToolCalls[0].Name)

	_, err = mock.Complete(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	_, err = mock.Complete(context.Background(), req)
	assert.Error(t, err)
	assert.Len(t, mock.Requests(), 3)
}

func TestMockLLMClientStream(t *testing.T) {
	mock := NewMockLLMClient(Reply("here is your code"))
	stream, err := mock.Stream(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)

	var chunks int
	resp, err := llm.CollectStream(stream, func(string) { chunks++ })
	require.NoError(t, err)
	assert.Equal(t, "here is your code", resp.Content)
	assert.Equal(t, 4, chunks)
}
