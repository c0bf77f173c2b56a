// Package config provides settings loading and validation for the code assistant.
// Settings are read once from a YAML document, validated, and then passed by pointer
// to the components that need them. A loaded Settings value is never mutated.
package config

import (
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// Provider names accepted in llm.provider.
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Defaults applied before the document is decoded.
const (
	DefaultConfigPath   = "config.yaml"
	TemplateConfigPath  = "config.template.yaml"
	DefaultLocation     = "us-central1"
	DefaultModel        = "chat-bison"
	DefaultCrewModel    = "gemini-2.0-flash-001"
	DefaultOllamaHost   = "http://localhost:11434"
	DefaultServerAddr   = "127.0.0.1:8080"
	DefaultMaxTokens    = 4096
	DefaultMaxAttempts  = 3
	DefaultToolRounds   = 5
	DefaultCrewMaxIters = 6

	DefaultRequestTimeout = 120 * time.Second
	DefaultCrewTimeout    = 10 * time.Minute
)

// VertexAIConfig identifies the hosted model and the cloud project it runs in.
type VertexAIConfig struct {
	Project  string `yaml:"project" validate:"required"`
	Location string `yaml:"location" validate:"required"`
	Model    string `yaml:"model" validate:"required"`
}

// LLMConfig controls how the chat model client is built.
//
//nolint:govet // fieldalignment: grouped by concern
type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=google anthropic openai ollama"`
	Model             string        `yaml:"model" validate:"required_unless=Provider google"`
	APIKey            string        `yaml:"api_key"`
	OllamaHost        string        `yaml:"ollama_host" validate:"omitempty,url"`
	Temperature       float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gt=0"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
}

// CrewConfig controls the code-generation crew.
//
//nolint:govet // fieldalignment: grouped by concern
type CrewConfig struct {
	Model              string        `yaml:"model" validate:"required"`
	Temperature        float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens          int           `yaml:"max_tokens" validate:"gt=0"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxDelegationDepth int           `yaml:"max_delegation_depth" validate:"gte=0,lte=3"`
	MaxIterations      int           `yaml:"max_iterations" validate:"gte=1,lte=20"`
}

// OrchestratorConfig bounds a single conversation turn.
type OrchestratorConfig struct {
	MaxToolRounds int `yaml:"max_tool_rounds" validate:"gte=1,lte=20"`
}

// ServerConfig is used by the HTTP front-end adapter.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// LedgerConfig points at the SQLite crew run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Settings is the root configuration document.
//
//nolint:govet // fieldalignment: mirrors the document layout
type Settings struct {
	GoogleVertexAI VertexAIConfig     `yaml:"google_vertex_ai"`
	LLM            LLMConfig          `yaml:"llm"`
	Crew           CrewConfig         `yaml:"crew"`
	Orchestrator   OrchestratorConfig `yaml:"orchestrator"`
	Server         ServerConfig       `yaml:"server"`
	Ledger         LedgerConfig       `yaml:"ledger"`
	// PromptsDir optionally overrides the embedded prompt templates.
	PromptsDir string `yaml:"prompts_dir" validate:"omitempty,dir"`
}

// ChatModel is the model the orchestrator talks to. For the google provider it
// defaults to google_vertex_ai.model.
func (s *Settings) ChatModel() string {
	if s.LLM.Model != "" {
		return s.LLM.Model
	}
	return s.GoogleVertexAI.Model
}

// CrewModel is the model the crew runs on: crew.model when set, otherwise the
// provider's default.
func (s *Settings) CrewModel() string {
	if s.Crew.Model != "" {
		return s.Crew.Model
	}
	return s.defaultCrewModel()
}

// defaultCrewModel is the Gemini crew model for the google provider; other
// providers run the crew on the chat model.
func (s *Settings) defaultCrewModel() string {
	if s.LLM.Provider == ProviderGoogle {
		return DefaultCrewModel
	}
	return s.ChatModel()
}

// Default returns settings populated with every default. The project is left empty,
// and so is the crew model, which depends on the provider.
func Default() Settings {
	return Settings{
		GoogleVertexAI: VertexAIConfig{
			Location: DefaultLocation,
			Model:    DefaultModel,
		},
		LLM: LLMConfig{
			Provider:       ProviderGoogle,
			Temperature:    llm.TemperatureDeterministic,
			MaxTokens:      DefaultMaxTokens,
			RequestTimeout: DefaultRequestTimeout,
			MaxAttempts:    DefaultMaxAttempts,
		},
		Crew: CrewConfig{
			Temperature:        llm.TemperatureCrew,
			MaxTokens:          8192,
			Timeout:            DefaultCrewTimeout,
			MaxDelegationDepth: 1,
			MaxIterations:      DefaultCrewMaxIters,
		},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds: DefaultToolRounds,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
	}
}
