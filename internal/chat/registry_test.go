package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	name string
	resp *Response
	err  error
	last Request
}

func (p *staticProvider) Name() string { return p.name }
func (p *staticProvider) Chat(_ context.Context, req Request) (*Response, error) {
	p.last = req
	return p.resp, p.err
}

// TestRegistryRouting verifies model strings land on the right provider.
func TestRegistryRouting(t *testing.T) {
	r := NewRegistry("openai", nil, zerolog.Nop())
	for _, name := range []string{"openai", "anthropic", "openrouter", "ollama", "bedrock", "fm"} {
		r.Register(&staticProvider{name: name, resp: &Response{}})
	}

	tests := []struct {
		model string
		want  string
	}{
		{"", "openai"},
		{"gpt-4o-mini", "openai"},
		{"groq/llama-3.1-8b-instant", "openai"},
		{"cerebras/llama3.1-8b", "openai"},
		{"xai/grok-2", "openai"},
		{"grok-2-mini", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"anthropic/claude-3-5-haiku", "anthropic"},
		{"openrouter/auto", "openrouter"},
		{"meta-llama/llama-3.3-70b-instruct:free", "openrouter"},
		{"ollama/qwen2.5-coder:7b", "ollama"},
		{"bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0", "bedrock"},
		{"fm", "fm"},
		{"fm/default", "fm"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := r.Route(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

// TestRegistryUnknownProvider verifies routing to an unregistered provider
// fails with a named error instead of a panic.
func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry("openai", nil, zerolog.Nop())
	_, err := r.Route("claude-sonnet-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
}

// TestOpenAIClientParsesToolCalls verifies the wire tool_calls map onto the
// unified shape with raw JSON arguments.
func TestOpenAIClientParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, false, body["stream"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "test-model",
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "write_file", "arguments": "{\"path\":\"a.txt\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIOptions{BaseURL: srv.URL, APIKey: "k", Model: "test-model"}, zerolog.Nop())
	resp, err := c.Chat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "go"}}})
	require.NoError(t, err)

	tc := resp.FirstToolCall()
	require.NotNil(t, tc)
	assert.Equal(t, "write_file", tc.Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, tc.Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

// TestOpenAIClientClassifies429 verifies rate limiting is retried and the
// final error carries the status.
func TestOpenAIClientClassifies429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIOptions{
		BaseURL: srv.URL, APIKey: "k", Model: "m",
		Retry: Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, zerolog.Nop())

	_, err := c.Chat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	pe, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, 429, pe.Status)
	assert.True(t, pe.Retryable())
}

// TestAnthropicClientMapsContentBlocks verifies text and tool_use blocks both
// survive the translation, with system messages lifted out.
func TestAnthropicClientMapsContentBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be brief", body["system"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "running the tool"},
				{"type": "tool_use", "id": "tu_1", "name": "run_command", "input": {"command": "ls"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 9, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicOptions{BaseURL: srv.URL, APIKey: "k", Model: "claude-test"}, zerolog.Nop())
	resp, err := c.Chat(context.Background(), Request{Messages: []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "list files"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "running the tool", resp.Text())
	tc := resp.FirstToolCall()
	require.NotNil(t, tc)
	assert.Equal(t, "run_command", tc.Name)
	assert.JSONEq(t, `{"command":"ls"}`, tc.Arguments)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}
