package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/telemetry"
)

// Registry routes chat requests to named providers by inspecting the model
// string, and implements Client so consumers stay provider-agnostic.
//
// Routing: an explicit provider prefix wins (fm/, anthropic/, ollama/,
// bedrock/); groq/, cerebras/, xai/ and grok* go to the OpenAI-shape client,
// which picks the host itself; any other vendor-prefixed ID (a slash in the
// model, e.g. meta-llama/llama-3.3-70b-instruct:free or openrouter/auto)
// goes to OpenRouter; everything else goes to the default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	fallback string
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry with a default provider name.
func NewRegistry(defaultProvider string, metrics *telemetry.Metrics, logger zerolog.Logger) *Registry {
	if defaultProvider == "" {
		defaultProvider = "openai"
	}
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  defaultProvider,
		metrics:   metrics,
		logger:    logger.With().Str("component", "chat.registry").Logger(),
	}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered providers, unsorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Route picks the provider responsible for a model string.
func (r *Registry) Route(model string) (Provider, error) {
	name := r.routeName(model)
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("no '%s' provider registered for model '%s'", name, model)
	}
	return p, nil
}

func (r *Registry) routeName(model string) string {
	switch {
	case model == "":
		return r.fallback
	case model == "fm" || strings.HasPrefix(model, "fm/"):
		return "fm"
	case strings.HasPrefix(model, "anthropic/") || strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "ollama/"):
		return "ollama"
	case strings.HasPrefix(model, "bedrock/"):
		return "bedrock"
	case strings.HasPrefix(model, "groq/"),
		strings.HasPrefix(model, "cerebras/"),
		strings.HasPrefix(model, "xai/"),
		strings.HasPrefix(model, "grok"):
		return "openai"
	case strings.Contains(model, "/"):
		return "openrouter"
	default:
		return r.fallback
	}
}

// Chat routes the request and counts the outcome. The provider keeps the
// model string as given except for its own prefix (fm/, anthropic/, ...).
func (r *Registry) Chat(ctx context.Context, req Request) (*Response, error) {
	p, err := r.Route(req.Model)
	if err != nil {
		r.metrics.IncChatRequest("unrouted", "error")
		return nil, err
	}

	resp, err := p.Chat(ctx, req)
	if err != nil {
		outcome := "error"
		if pe, ok := err.(*ProviderError); ok {
			outcome = string(pe.Reason)
		}
		r.metrics.IncChatRequest(p.Name(), outcome)
		r.logger.Warn().Str("provider", p.Name()).Str("model", req.Model).Err(err).Msg("chat request failed")
		return nil, err
	}

	r.metrics.IncChatRequest(p.Name(), "ok")
	return resp, nil
}
