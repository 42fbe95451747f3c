// Package chat unifies every LLM backend behind a single capability:
// Chat(request) -> response.
//
// DESIGN: One request/response shape regardless of provider. Providers adapt
// it to their wire format:
//
//   - openai:     OpenAI chat completions, with host selection on the model
//                 string (groq/, cerebras/, xai/ prefixes)
//   - anthropic:  native Messages API
//   - openrouter: OpenAI shape at openrouter.ai plus attribution headers
//   - ollama:     OpenAI-compatible endpoint on localhost
//   - bedrock:    Anthropic Messages shape behind a SigV4 signing transport
//   - fm:         local Foundation-Model bridge (registered by fmbridge)
//
// Retryable failures (network, 5xx, 429, timeout) are recovered inside the
// client with exponential backoff and deterministic jitter; everything else
// surfaces as a *ProviderError.
package chat

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON schema
}

// Request is the provider-independent chat request.
type Request struct {
	Messages       []Message
	Model          string // provider default when empty
	Tools          []Tool
	ToolChoice     string   // "", "auto", "none", or a tool name
	Temperature    *float64 // omitted when nil (some models reject the field)
	MaxTokens      int
	ResponseFormat string // "" or "json_object"
	Retry          *Policy
	Headers        map[string]string // extra headers, e.g. attribution
	APIKey         string            // overrides the provider's configured key
	BaseURL        string            // overrides the provider's endpoint
}

// Usage reports token consumption for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON string exactly as the provider returned it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseMessage is the assistant message inside a choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// Response is the provider-independent chat response.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
	Choices []Choice `json:"choices"`
}

// Text returns the first choice's content, or "".
func (r *Response) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// FirstToolCall returns the first tool call of the first choice, or nil.
func (r *Response) FirstToolCall() *ToolCall {
	if r == nil || len(r.Choices) == 0 || len(r.Choices[0].Message.ToolCalls) == 0 {
		return nil
	}
	return &r.Choices[0].Message.ToolCalls[0]
}

// Client is the single capability every consumer depends on. The Registry
// implements it by routing on the request's model string; tests implement it
// with fakes.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Provider is a named chat backend.
type Provider interface {
	Client
	Name() string
}
