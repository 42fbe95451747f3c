package chat

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
)

// sigV4Transport signs requests for bedrock-runtime with AWS SigV4 before
// delegating to the base RoundTripper. Credentials come from the standard
// AWS chain.
type sigV4Transport struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	base        http.RoundTripper
}

func newSigV4Transport(ctx context.Context, region string, base http.RoundTripper) (*sigV4Transport, error) {
	if region == "" {
		region = "us-east-1"
	}
	if base == nil {
		base = http.DefaultTransport
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	return &sigV4Transport{
		credentials: cfg.Credentials,
		region:      region,
		signer:      v4.NewSigner(),
		base:        base,
	}, nil
}

// RoundTrip buffers the body (SigV4 needs its hash), signs, and forwards.
func (t *sigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	creds, err := t.credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))
	if err := t.signer.SignHTTP(req.Context(), creds, req, payloadHash, "bedrock", t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign bedrock request: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	return t.base.RoundTrip(req)
}

// BedrockClient invokes Anthropic models on Amazon Bedrock. The wire body is
// the Anthropic Messages shape with anthropic_version pinned for Bedrock;
// auth is SigV4 via the transport, never an API key.
type BedrockClient struct {
	region     string
	model      string
	timeout    time.Duration
	retry      Policy
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBedrockClient builds the Bedrock provider. It fails when no AWS
// credentials are resolvable.
func NewBedrockClient(ctx context.Context, region, model string, timeout time.Duration, retry Policy, logger zerolog.Logger) (*BedrockClient, error) {
	transport, err := newSigV4Transport(ctx, region, nil)
	if err != nil {
		return nil, &ProviderError{Provider: "bedrock", Reason: ReasonRequestFailed, Cause: err}
	}
	if region == "" {
		region = "us-east-1"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &BedrockClient{
		region:     region,
		model:      model,
		timeout:    timeout,
		retry:      retry,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With().Str("component", "chat.bedrock").Logger(),
	}, nil
}

// Name returns "bedrock".
func (c *BedrockClient) Name() string { return "bedrock" }

// Chat invokes the model with the client's retry policy.
func (c *BedrockClient) Chat(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	model = strings.TrimPrefix(model, "bedrock/")

	policy := c.retry
	if req.Retry != nil {
		policy = *req.Retry
	}

	var resp *Response
	err := Do(ctx, policy, "bedrock:"+model, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = c.doRequest(ctx, model, req)
		return attemptErr
	})
	return resp, err
}

func (c *BedrockClient) doRequest(ctx context.Context, model string, req Request) (*Response, error) {
	wire := anthropicRequest{
		Model:       "", // Bedrock carries the model in the URL
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

	body, err := json.Marshal(struct {
		anthropicRequest
		AnthropicVersion string `json:"anthropic_version"`
	}{wire, "bedrock-2023-05-31"})
	if err != nil {
		return nil, &ProviderError{Provider: "bedrock", Reason: ReasonRequestFailed, Cause: err}
	}

	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke",
		c.region, url.PathEscape(model))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: "bedrock", Reason: ReasonRequestFailed, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("bedrock", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProviderError{Provider: "bedrock", Reason: ReasonRequestFailed, Cause: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("bedrock", httpResp, respBody)
	}

	resp, err := parseAnthropicResponse(respBody)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok {
			pe.Provider = "bedrock"
		}
		return nil, err
	}
	return resp, nil
}
