package chat

import (
	"time"

	"github.com/rs/zerolog"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// NewOllamaClient builds the Ollama provider. Ollama serves the OpenAI wire
// shape under /v1 and ignores the bearer token, so a placeholder key keeps
// the shared client's auth path uniform.
func NewOllamaClient(baseURL, model string, timeout time.Duration, retry Policy, logger zerolog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // local models are slow to first token
	}
	return NewOpenAIClient(OpenAIOptions{
		Name:    "ollama",
		BaseURL: baseURL + "/v1",
		APIKey:  "ollama",
		Model:   model,
		Timeout: timeout,
		Retry:   retry,
	}, logger)
}
