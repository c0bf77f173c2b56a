// Package agent builds the language-model clients used by the orchestrator and the crew.
//
// Layout:
//   - llm: provider-neutral request/response types, the LLMClient interface and middleware chaining
//   - llmerrors: classified model-call errors
//   - middleware: metrics, retry, rate limiting, timeouts and empty-response handling
//   - internal/llmimpl: raw provider clients (Gemini/Vertex AI, Anthropic, OpenAI, Ollama)
//   - toolloop: bounded tool-calling loop shared by crew roles
//
// LLMClientFactory turns config.Settings into fully decorated clients. MockLLMClient
// scripts model turns for tests.
package agent
