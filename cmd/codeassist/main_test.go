package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/crew"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/persistence"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/tools"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/version"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.String()+"\n", out.String())
}

func TestMissingConfigIsFatal(t *testing.T) {
	for _, sub := range []string{"serve", "chat", "mcp"} {
		t.Run(sub, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs([]string{sub, "--config", filepath.Join(t.TempDir(), "config.yaml")})

			err := cmd.Execute()
			require.ErrorIs(t, err, config.ErrConfigNotFound)
			assert.Contains(t, err.Error(), config.TemplateConfigPath)
		})
	}
}

func TestChatEndToEnd(t *testing.T) {
	settings, err := config.LoadFromBytes([]byte("google_vertex_ai:\n  project: test-project\n"))
	require.NoError(t, err)
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	settings.Ledger.Path = ledgerPath

	chatClient := agent.NewMockLLMClient(
		agent.Reply("Which language should the program be written in?"),
		agent.CallTool("call_1", string(tools.ToolCoding), map[string]any{
			tools.ParamCodeInstructions: "FizzBuzz from 1 to 100 in Go",
		}),
		agent.Reply("Here is your program, reviewed by QA."),
	)
	crewClient := agent.NewMockLLMClient(
		agent.Reply("package main // fizzbuzz v1"),
		agent.Reply("package main // fizzbuzz v2, reviewed"),
	)

	in := strings.NewReader("Write fizzbuzz\nGo, 1 to 100\n/exit\n")
	var out, errOut bytes.Buffer
	err = runChat(context.Background(), settings,
		&globalFlags{redactSecrets: true},
		&chatFlags{dumpMetrics: true, noStream: true},
		in, &out, &errOut,
		appOptions{chatClient: chatClient, crewClient: crewClient},
	)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Which language should the program be written in?")
	assert.Contains(t, out.String(), "Here is your program, reviewed by QA.")
	assert.Zero(t, chatClient.Remaining())
	assert.Zero(t, crewClient.Remaining())

	// The final AGENT step saw the crew's output as the tool result.
	reqs := chatClient.Requests()
	require.Len(t, reqs, 3)
	last := reqs[2].Messages[len(reqs[2].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "package main // fizzbuzz v2, reviewed", last.ToolResults[0].Content)

	assert.Contains(t, errOut.String(), "orchestrator_steps_total")
	assert.Contains(t, errOut.String(), "crew_runs_total")
	assert.Contains(t, errOut.String(), "llm_requests_total")

	ledger, err := persistence.Open(ledgerPath)
	require.NoError(t, err)
	defer func() { _ = ledger.Close() }()
	runs, err := ledger.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, crew.RunSucceeded, runs[0].Status)
	assert.Equal(t, persistence.Fingerprint("FizzBuzz from 1 to 100 in Go"), runs[0].InstructionsFingerprint)
}

func TestChatStreamsAgentStepsApart(t *testing.T) {
	settings, err := config.LoadFromBytes([]byte("google_vertex_ai:\n  project: test-project\n"))
	require.NoError(t, err)

	chatClient := agent.NewMockLLMClient(
		agent.ScriptStep{Response: llm.CompletionResponse{
			Content:   "Handing this to the crew.",
			ToolCalls: []llm.ToolCall{{
				ID:         "call_1",
				Name:       string(tools.ToolCoding),
				Parameters: map[string]any{tools.ParamCodeInstructions: "hello world in Go"},
			}},
		}},
		agent.Reply("Here is your program."),
	)
	crewClient := agent.NewMockLLMClient(
		agent.Reply("package main"),
		agent.Reply("package main // reviewed"),
	)

	var out, errOut bytes.Buffer
	err = runChat(context.Background(), settings,
		&globalFlags{},
		&chatFlags{},
		strings.NewReader("hello world please\n"), &out, &errOut,
		appOptions{chatClient: chatClient, crewClient: crewClient},
	)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Handing this to the crew.\n\nHere is your program.\n")
	assert.Equal(t, 1, strings.Count(out.String(), "Here is your program."))
}

func TestServeRejectsBadAddrFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("google_vertex_ai:\n  project: test-project\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--config", path, "--addr", "nowhere"})

	err := cmd.Execute()
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "--addr", verr.Field)
}
