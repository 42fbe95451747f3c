// Package fmbridge talks to the local Foundation-Model bridge: a small HTTP
// server wrapping the on-device model behind an OpenAI-shape endpoint.
//
// DESIGN: The bridge is a process-wide singleton. The Client is a plain HTTP
// consumer implementing chat.Provider; the Launcher converges concurrent
// processes on one bridge instance via a lock file with stale detection; the
// Worker drives single-turn tool selection for tiny models, with a
// fixed-shape bounded prompt and a three-stage tool-call parser.
//
// PROTOCOL (consumed):
//   - GET  /health                -> {status, model_available, version, platform}
//   - POST /v1/chat/completions   -> OpenAI-shape request/response, stream=false
//   - GET  /v1/models             -> {object:"list", data:[{id, ...}]}
//   - errors                      -> {error:{message, type, code?}}
package fmbridge

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

	"github.com/openagents/gym/internal/chat"
)

const (
	// DefaultBaseURL is where the bridge listens locally.
	DefaultBaseURL = "http://127.0.0.1:11435"

	// DefaultRequestTimeout bounds one chat completion; on-device models can
	// be slow under memory pressure.
	DefaultRequestTimeout = 5 * time.Minute

	maxResponseSize = 10 * 1024 * 1024
)

// Health is the bridge's /health document.
type Health struct {
	Status         string `json:"status"` // "server_running" when ready
	ModelAvailable bool   `json:"model_available"`
	Version        string `json:"version"`
	Platform       string `json:"platform"`
}

// Ready reports whether the bridge is accepting completions.
func (h *Health) Ready() bool {
	return h != nil && (h.Status == "server_running" || h.Status == "ok")
}

// Model is one entry of the bridge's /v1/models list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// Client consumes the FM bridge protocol and implements chat.Provider under
// the name "fm". Conversations are truncated to the configured char budget
// before dispatch; the on-device models have very small contexts.
type Client struct {
	baseURL    string
	timeout    time.Duration
	charBudget int
	httpClient *http.Client
	logger     zerolog.Logger
}

// Options configures a bridge client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	CharBudget     int // 0 means chat.DefaultFMCharBudget
	HTTPClient     *http.Client
}

// NewClient builds a bridge client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	budget := opts.CharBudget
	if budget <= 0 {
		budget = chat.DefaultFMCharBudget
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		charBudget: budget,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "fmbridge").Logger(),
	}
}

// Name returns "fm".
func (c *Client) Name() string { return "fm" }

// BaseURL returns the bridge endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// Health fetches the bridge health document. A connection-level failure maps
// to server_not_running.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonServerNotRunning, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromBody(resp.StatusCode, body)
	}

	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonInvalidResponse, Cause: err}
	}
	if h.Platform != "" && h.Platform != "darwin" && h.Platform != "macos" {
		return &h, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonNotMacOS,
			Cause: fmt.Errorf("bridge reports platform '%s'", h.Platform)}
	}
	return &h, nil
}

// Models lists the models the bridge serves.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonServerNotRunning, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromBody(resp.StatusCode, body)
	}

	var list struct {
		Object string  `json:"object"`
		Data   []Model `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonInvalidResponse, Cause: err}
	}
	return list.Data, nil
}

// Chat sends one completion through the bridge. Messages are truncated to
// the char budget first; identical inputs truncate identically.
func (c *Client) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	msgs := chat.TruncateForFM(req.Messages, c.charBudget)

	model := strings.TrimPrefix(req.Model, "fm/")
	if model == "fm" || model == "" {
		model = "default"
	}

	wire := map[string]any{
		"model":    model,
		"messages": msgs,
		"stream":   false,
	}
	if req.Temperature != nil {
		wire["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		wire["max_tokens"] = req.MaxTokens
	}
	if req.ResponseFormat != "" {
		wire["response_format"] = map[string]string{"type": req.ResponseFormat}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonTimeout, Cause: err}
		}
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonServerNotRunning, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed, Cause: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromBody(httpResp.StatusCode, respBody)
	}

	return parseBridgeResponse(respBody)
}

// errorFromBody maps the bridge's {error:{message,type,code}} document onto
// the provider taxonomy.
func (c *Client) errorFromBody(status int, body []byte) *chat.ProviderError {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	reason := chat.ReasonRequestFailed
	cause := fmt.Errorf("status %d", status)
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		cause = fmt.Errorf("%s: %s", wrapper.Error.Type, wrapper.Error.Message)
		lower := strings.ToLower(wrapper.Error.Message)
		switch {
		case strings.Contains(lower, "model") && (strings.Contains(lower, "unavailable") || strings.Contains(lower, "not available") || strings.Contains(lower, "not found")):
			reason = chat.ReasonModelUnavailable
		case strings.Contains(lower, "timeout"):
			reason = chat.ReasonTimeout
		}
	}
	return &chat.ProviderError{Provider: "fm", Reason: reason, Status: status, Cause: cause}
}

// parseBridgeResponse decodes the OpenAI-shape completion, tolerating a
// missing usage block (the bridge omits it for some models).
func parseBridgeResponse(body []byte) (*chat.Response, error) {
	var wire struct {
		ID      string      `json:"id"`
		Model   string      `json:"model"`
		Usage   *chat.Usage `json:"usage"`
		Choices []struct {
			Message struct {
				Role      string `json:"role"`
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonInvalidResponse, Cause: err}
	}
	if len(wire.Choices) == 0 {
		return nil, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonInvalidResponse,
			Cause: fmt.Errorf("response has no choices")}
	}

	resp := &chat.Response{ID: wire.ID, Model: wire.Model, Usage: wire.Usage}
	for _, ch := range wire.Choices {
		choice := chat.Choice{
			Message:      chat.ResponseMessage{Role: ch.Message.Role, Content: ch.Message.Content},
			FinishReason: ch.FinishReason,
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, chat.ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}
