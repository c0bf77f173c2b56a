package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	llmmetrics "github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/chat"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/crew"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/orchestrator"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/persistence"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/session"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/templates"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/tools"
)

// app holds every long-lived component of one process.
type app struct {
	settings     *config.Settings
	registry     *prometheus.Registry
	orchestrator *orchestrator.Orchestrator
	tools        *tools.Registry
	sessions     *session.Manager
	ledger       *persistence.Ledger
	logger       *logx.Logger
}

// appOptions customizes wiring per command. The client fields replace the
// provider clients and exist for tests.
type appOptions struct {
	registry     *prometheus.Registry
	stream       orchestrator.StreamHandler
	chatClient   llm.LLMClient
	crewClient   llm.LLMClient
	redactSecret bool
}

func newApp(ctx context.Context, settings *config.Settings, opts appOptions) (*app, error) {
	a := &app{
		settings: settings,
		registry: opts.registry,
		logger:   logx.NewLogger("codeassist"),
	}
	if a.registry == nil {
		a.registry = newRegistry()
	}

	chatClient, crewClient, err := a.clients(ctx, opts)
	if err != nil {
		return nil, err
	}

	renderer, err := templates.NewRenderer(settings.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	prompts, err := crew.LoadPrompts(renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to load crew prompts: %w", err)
	}

	crewOpts := []crew.Option{crew.WithMetrics(crew.NewMetrics(a.registry))}
	if settings.Ledger.Path != "" {
		a.ledger, err = persistence.Open(settings.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open crew run ledger: %w", err)
		}
		crewOpts = append(crewOpts, crew.WithRunRecorder(a.ledger))
		a.logger.Info("📒 Recording crew runs in %s", settings.Ledger.Path)
	}
	engineers := crew.New(crewClient, prompts, crew.OptionsFromSettings(settings), crewOpts...)

	a.tools = tools.NewRegistry(engineers)

	orchOpts := []orchestrator.Option{orchestrator.WithMetrics(orchestrator.NewMetrics(a.registry))}
	if opts.stream != nil {
		orchOpts = append(orchOpts, orchestrator.WithStreamHandler(opts.stream))
	}
	a.orchestrator, err = orchestrator.New(chatClient, a.tools, renderer, orchestrator.ConfigFromSettings(settings), orchOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create orchestrator: %w", err), a.Close())
	}

	var sessionOpts []session.Option
	if opts.redactSecret {
		sessionOpts = append(sessionOpts, session.WithRedactor(chat.NewPatternScanner(secretScanTimeout)))
	}
	a.sessions = session.NewManager(a.orchestrator, sessionOpts...)
	return a, nil
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (a *app) clients(ctx context.Context, opts appOptions) (llm.LLMClient, llm.LLMClient, error) {
	recorder := llmmetrics.NewPrometheusRecorder(a.registry)
	if opts.chatClient != nil && opts.crewClient != nil {
		return decorateInjected(opts.chatClient, recorder, agent.CallerOrchestrator),
			decorateInjected(opts.crewClient, recorder, agent.CallerCrew), nil
	}

	factory := agent.NewLLMClientFactory(a.settings, recorder)
	chatClient, err := factory.ChatClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat model client: %w", err)
	}
	crewClient, err := factory.CrewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create crew model client: %w", err)
	}
	return chatClient, crewClient, nil
}

func decorateInjected(raw llm.LLMClient, recorder llmmetrics.Recorder, caller string) llm.LLMClient {
	return agent.Decorate(raw, agent.MiddlewareOptions{Recorder: recorder, Caller: caller, MaxAttempts: 1})
}

// Close releases the ledger.
func (a *app) Close() error {
	if a.ledger == nil {
		return nil
	}
	if err := a.ledger.Close(); err != nil {
		return fmt.Errorf("failed to close crew run ledger: %w", err)
	}
	return nil
}
