package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	// Anthropic requires max_tokens; applied when the request carries none.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicClient speaks the native Anthropic Messages API. System messages
// are lifted into the top-level system field; tool_use content blocks map
// onto the unified ToolCall shape.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	retry      Policy
	httpClient *http.Client
	logger     zerolog.Logger
}

// AnthropicOptions configures the Anthropic provider.
type AnthropicOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Retry      Policy
	HTTPClient *http.Client
}

// NewAnthropicClient builds an Anthropic provider.
func NewAnthropicClient(opts AnthropicOptions, logger zerolog.Logger) *AnthropicClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AnthropicClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    timeout,
		retry:      opts.Retry,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "chat.anthropic").Logger(),
	}
}

// Name returns "anthropic".
func (c *AnthropicClient) Name() string { return "anthropic" }

// Chat sends one request with the client's retry policy.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	model = strings.TrimPrefix(model, "anthropic/")

	policy := c.retry
	if req.Retry != nil {
		policy = *req.Retry
	}

	var resp *Response
	err := Do(ctx, policy, "anthropic:"+model, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = c.doRequest(ctx, model, req)
		return attemptErr
	})
	return resp, err
}

type anthropicRequest struct {
	Model       string             `json:"model,omitempty"` // omitted on Bedrock, which carries it in the URL
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"` // text | tool_use
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

func (c *AnthropicClient) doRequest(ctx context.Context, model string, req Request) (*Response, error) {
	wire := anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = anthropicDefaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
			continue
		}
		wire.Messages = append(wire.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		wire.Tools = append(wire.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonRequestFailed, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonRequestFailed, Cause: err}
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("anthropic", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonRequestFailed, Cause: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("anthropic", httpResp, respBody)
	}

	return parseAnthropicResponse(respBody)
}

func parseAnthropicResponse(body []byte) (*Response, error) {
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonInvalidResponse, Cause: err}
	}
	if wire.Error != nil {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonRequestFailed,
			Cause: fmt.Errorf("%s: %s", wire.Error.Type, wire.Error.Message)}
	}
	if len(wire.Content) == 0 {
		return nil, &ProviderError{Provider: "anthropic", Reason: ReasonInvalidResponse,
			Cause: fmt.Errorf("response has no content blocks")}
	}

	msg := ResponseMessage{Role: "assistant"}
	var text strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	msg.Content = text.String()

	usage := &Usage{
		PromptTokens:     wire.Usage.InputTokens,
		CompletionTokens: wire.Usage.OutputTokens,
		TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
	}
	return &Response{
		ID:      wire.ID,
		Model:   wire.Model,
		Usage:   usage,
		Choices: []Choice{{Message: msg, FinishReason: wire.StopReason}},
	}, nil
}
