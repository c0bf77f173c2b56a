package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/internal/llmimpl/anthropic"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/internal/llmimpl/google"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/internal/llmimpl/ollama"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/internal/llmimpl/openaiofficial"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/logging"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/resilience/ratelimit"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/resilience/retry"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/resilience/timeout"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/middleware/validation"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

// Caller labels used in metrics and logs.
const (
	CallerOrchestrator = "orchestrator"
	CallerCrew         = "crew"
)

// MiddlewareOptions configures the chain wrapped around a raw provider client.
type MiddlewareOptions struct {
	Recorder    metrics.Recorder
	Limiter     *rate.Limiter
	Logger      *logx.Logger
	Caller      string
	MaxAttempts int
	Timeout     time.Duration
}

// Decorate wraps a raw client in the standard middleware chain:
// Metrics -> EmptyResponseLogging -> EmptyResponseValidation -> Retry -> RateLimit -> Timeout -> raw.
func Decorate(raw llm.LLMClient, opts MiddlewareOptions) llm.LLMClient {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}

	retryConfig := retry.DefaultConfig
	if opts.MaxAttempts > 0 {
		retryConfig.MaxAttempts = opts.MaxAttempts
	}

	var timeoutMW llm.Middleware
	if opts.Timeout > 0 {
		timeoutMW = timeout.Middleware(opts.Timeout)
	}

	return llm.Chain(raw,
		metrics.Middleware(recorder, opts.Caller, nil, opts.Logger),
		logging.EmptyResponseLoggingMiddleware(),
		validation.EmptyResponseMiddleware(),
		retry.Middleware(retry.NewPolicy(retryConfig, nil)),
		ratelimit.Middleware(opts.Limiter, recorder),
		timeoutMW,
	)
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
// Clients it returns are safe for concurrent use and share one rate limiter.
type LLMClientFactory struct {
	settings *config.Settings
	recorder metrics.Recorder
	limiter  *rate.Limiter
	logger   *logx.Logger
}

// NewLLMClientFactory creates a factory from loaded settings. A nil recorder disables metrics.
func NewLLMClientFactory(settings *config.Settings, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &LLMClientFactory{
		settings: settings,
		recorder: recorder,
		limiter:  ratelimit.NewLimiter(settings.LLM.RequestsPerMinute),
		logger:   logx.NewLogger("llm-factory"),
	}
}

// ChatClient returns the client the orchestrator converses with.
func (f *LLMClientFactory) ChatClient(ctx context.Context) (llm.LLMClient, error) {
	return f.create(ctx, f.settings.ChatModel(), CallerOrchestrator)
}

// CrewClient returns the client the code-generation crew runs on.
func (f *LLMClientFactory) CrewClient(ctx context.Context) (llm.LLMClient, error) {
	return f.create(ctx, f.settings.CrewModel(), CallerCrew)
}

func (f *LLMClientFactory) create(ctx context.Context, model, caller string) (llm.LLMClient, error) {
	raw, err := f.rawClient(ctx, model)
	if err != nil {
		return nil, err
	}
	f.logger.Info("🔌 Created %s client: provider=%s model=%s", caller, f.settings.LLM.Provider, model)

	return Decorate(raw, MiddlewareOptions{
		Recorder:    f.recorder,
		Limiter:     f.limiter,
		Logger:      logx.NewLogger(caller),
		Caller:      caller,
		MaxAttempts: f.settings.LLM.MaxAttempts,
		Timeout:     f.settings.LLM.RequestTimeout,
	}), nil
}

func (f *LLMClientFactory) rawClient(ctx context.Context, model string) (llm.LLMClient, error) {
	s := f.settings
	apiKey := s.ResolveAPIKey()

	switch s.LLM.Provider {
	case config.ProviderGoogle:
		cfg := google.Config{APIKey: apiKey, Model: model}
		if apiKey == "" {
			cfg.Project = s.GoogleVertexAI.Project
			cfg.Location = s.GoogleVertexAI.Location
		}
		client, err := google.NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for %s: %w", model, err)
		}
		return client, nil
	case config.ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for provider %s: set llm.api_key or %s", s.LLM.Provider, config.APIKeyEnvVar(s.LLM.Provider))
		}
		return anthropic.NewClaudeClient(apiKey, model), nil
	case config.ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for provider %s: set llm.api_key or %s", s.LLM.Provider, config.APIKeyEnvVar(s.LLM.Provider))
		}
		return openaiofficial.NewOfficialClient(apiKey, model), nil
	case config.ProviderOllama:
		client, err := ollama.NewOllamaClient(s.ResolveOllamaHost(), model)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client for %s: %w", model, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", s.LLM.Provider)
	}
}
