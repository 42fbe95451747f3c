package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxResponseSize caps response reads so a misbehaving endpoint cannot
	// exhaust memory (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error bodies quoted in error messages.
	maxErrorBodyLen = 500

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	groqBaseURL          = "https://api.groq.com/openai/v1"
	cerebrasBaseURL      = "https://api.cerebras.ai/v1"
	xaiBaseURL           = "https://api.x.ai/v1"
)

// OpenAIClient speaks the OpenAI chat-completions shape. One client serves
// OpenAI, Groq, Cerebras, and xAI: the model string selects the host
// (groq/..., cerebras/..., xai/... or grok*), with prefixes stripped before
// dispatch.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	model      string // default model
	timeout    time.Duration
	retry      Policy
	headers    map[string]string
	httpClient *http.Client
	logger     zerolog.Logger
}

// OpenAIOptions configures an OpenAI-shape client.
type OpenAIOptions struct {
	Name    string // provider name for errors and logs; "openai" when empty
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   Policy
	Headers map[string]string // sent on every request
	// HTTPClient overrides the transport; used by the bedrock provider to
	// install its signing RoundTripper and by tests.
	HTTPClient *http.Client
}

// NewOpenAIClient builds an OpenAI-shape provider.
func NewOpenAIClient(opts OpenAIOptions, logger zerolog.Logger) *OpenAIClient {
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{} // timeout via context, not client
	}
	return &OpenAIClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    timeout,
		retry:      opts.Retry,
		headers:    opts.Headers,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "chat."+name).Logger(),
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// Chat sends one request, retrying retryable failures per the request's
// policy (falling back to the client's).
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	baseURL, model := c.resolveHost(model)
	if req.BaseURL != "" {
		baseURL = strings.TrimRight(req.BaseURL, "/")
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}

	policy := c.retry
	if req.Retry != nil {
		policy = *req.Retry
	}

	var resp *Response
	err := Do(ctx, policy, c.name+":"+model, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = c.doRequest(ctx, baseURL, apiKey, model, req)
		return attemptErr
	})
	return resp, err
}

// resolveHost maps prefixed model strings onto their serving host.
func (c *OpenAIClient) resolveHost(model string) (string, string) {
	switch {
	case strings.HasPrefix(model, "groq/"):
		return groqBaseURL, strings.TrimPrefix(model, "groq/")
	case strings.HasPrefix(model, "cerebras/"):
		return cerebrasBaseURL, strings.TrimPrefix(model, "cerebras/")
	case strings.HasPrefix(model, "xai/"):
		return xaiBaseURL, strings.TrimPrefix(model, "xai/")
	case strings.HasPrefix(model, "grok"):
		return xaiBaseURL, model
	default:
		return c.baseURL, model
	}
}

func (c *OpenAIClient) doRequest(ctx context.Context, baseURL, apiKey, model string, req Request) (*Response, error) {
	body, err := json.Marshal(buildOpenAIBody(model, req))
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Reason: ReasonRequestFailed, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Reason: ReasonRequestFailed, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Reason: ReasonRequestFailed, Cause: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(c.name, httpResp, respBody)
	}

	return parseOpenAIResponse(c.name, respBody)
}

// openAIRequest is the wire shape for chat completions.
type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Tools          []openAITool    `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type openAITool struct {
	Type     string         `json:"type"` // always "function"
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func buildOpenAIBody(model string, req Request) openAIRequest {
	body := openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if req.ResponseFormat != "" {
		body.ResponseFormat = &responseFormat{Type: req.ResponseFormat}
	}
	return body
}

func parseOpenAIResponse(provider string, body []byte) (*Response, error) {
	var wire openAIResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProviderError{Provider: provider, Reason: ReasonInvalidResponse, Cause: err}
	}
	if wire.Error != nil {
		return nil, &ProviderError{Provider: provider, Reason: ReasonRequestFailed,
			Cause: fmt.Errorf("%s: %s", wire.Error.Type, wire.Error.Message)}
	}
	if len(wire.Choices) == 0 {
		return nil, &ProviderError{Provider: provider, Reason: ReasonInvalidResponse,
			Cause: fmt.Errorf("response has no choices")}
	}

	resp := &Response{ID: wire.ID, Model: wire.Model, Usage: wire.Usage}
	for _, ch := range wire.Choices {
		choice := Choice{
			Message:      ResponseMessage{Role: ch.Message.Role, Content: ch.Message.Content},
			FinishReason: ch.FinishReason,
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

// classifyTransportError maps connection-level failures onto the taxonomy.
func classifyTransportError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Reason: ReasonTimeout, Cause: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return &ProviderError{Provider: provider, Reason: ReasonServerNotRunning, Cause: err}
	}
	return &ProviderError{Provider: provider, Reason: ReasonRequestFailed, Cause: err}
}

// classifyHTTPError maps non-200 responses onto the taxonomy, carrying the
// status and any Retry-After header.
func classifyHTTPError(provider string, resp *http.Response, body []byte) *ProviderError {
	errBody := string(body)
	if len(errBody) > maxErrorBodyLen {
		errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
	}

	pe := &ProviderError{
		Provider: provider,
		Reason:   ReasonRequestFailed,
		Status:   resp.StatusCode,
		Cause:    fmt.Errorf("status %d: %s", resp.StatusCode, errBody),
	}
	if resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(errBody), "model") {
		pe.Reason = ReasonModelUnavailable
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			pe.RetryAfter = &d
		}
	}
	return pe
}
