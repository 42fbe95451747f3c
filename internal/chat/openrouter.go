package chat

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter attribution headers; OpenRouter uses them for ranking and
// abuse attribution.
const (
	openRouterReferer = "https://github.com/openagents/gym"
	openRouterTitle   = "OpenAgents Gym"
)

// NewOpenRouterClient builds the OpenRouter provider: the OpenAI wire shape
// served at openrouter.ai, with attribution headers on every request.
// OpenRouter model IDs pass through untouched, slashes and all
// (openrouter/auto, meta-llama/llama-3.3-70b-instruct:free).
func NewOpenRouterClient(apiKey, model string, timeout time.Duration, retry Policy, httpClient *http.Client, logger zerolog.Logger) *OpenAIClient {
	return NewOpenAIClient(OpenAIOptions{
		Name:    "openrouter",
		BaseURL: openRouterBaseURL,
		APIKey:  apiKey,
		Model:   model,
		Timeout: timeout,
		Retry:   retry,
		Headers: map[string]string{
			"HTTP-Referer": openRouterReferer,
			"X-Title":      openRouterTitle,
		},
		HTTPClient: httpClient,
	}, logger)
}
