package config

import (
	"fmt"
	"time"
)

// ChatConfig configures the chat-provider abstraction.
type ChatConfig struct {
	DefaultProvider string                    `yaml:"default_provider"` // provider used when a model carries no prefix
	Retry           RetryConfig               `yaml:"retry"`            // applied unless a request overrides
	Providers       map[string]ProviderConfig `yaml:"providers"`        // keyed by provider name
}

// RetryConfig bounds the chat client's retry loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // total attempts including the first
	BaseDelay   time.Duration `yaml:"base_delay"`   // doubled per attempt
	Jitter      bool          `yaml:"jitter"`       // multiply delay by [0.5,1.5)
}

// ProviderConfig configures one chat backend.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`    // endpoint root; provider default when empty
	APIKeyEnv string        `yaml:"api_key_env"` // env var holding the key
	Model     string        `yaml:"model"`       // default model for this provider
	Timeout   time.Duration `yaml:"timeout"`     // per-request timeout
	Region    string        `yaml:"region"`      // bedrock only
}

// FMConfig configures the local Foundation-Model bridge.
type FMConfig struct {
	BaseURL        string        `yaml:"base_url"`        // bridge endpoint
	BridgePath     string        `yaml:"bridge_path"`     // bridge binary for auto-start
	StartupTimeout time.Duration `yaml:"startup_timeout"` // health polling budget
	HealthInterval time.Duration `yaml:"health_interval"` // delay between health polls
	RequestTimeout time.Duration `yaml:"request_timeout"` // chat request timeout
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
	CharBudget     int           `yaml:"char_budget"` // context truncation budget
}

func defaultChatConfig() ChatConfig {
	return ChatConfig{
		DefaultProvider: "openai",
		Retry:           RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Jitter: true},
		Providers: map[string]ProviderConfig{
			"openai":     {APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4o-mini", Timeout: 2 * time.Minute},
			"anthropic":  {APIKeyEnv: "ANTHROPIC_API_KEY", Model: "claude-sonnet-4-20250514", Timeout: 2 * time.Minute},
			"openrouter": {APIKeyEnv: "OPENROUTER_API_KEY", Model: "openrouter/auto", Timeout: 2 * time.Minute},
			"ollama":     {BaseURL: "http://127.0.0.1:11434", Model: "qwen2.5-coder:7b", Timeout: 5 * time.Minute},
			"bedrock":    {Region: "us-east-1", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", Timeout: 2 * time.Minute},
		},
	}
}

func defaultFMConfig() FMConfig {
	return FMConfig{
		BaseURL:        "http://127.0.0.1:11435",
		StartupTimeout: 10 * time.Second,
		HealthInterval: 500 * time.Millisecond,
		RequestTimeout: 5 * time.Minute,
		LockStaleAfter: 60 * time.Second,
		CharBudget:     1100,
	}
}

// Validate checks chat settings.
func (c *ChatConfig) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("chat.retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("chat.retry.base_delay must be positive")
	}
	if c.DefaultProvider == "" {
		return fmt.Errorf("chat.default_provider is required")
	}
	if _, ok := c.Providers[c.DefaultProvider]; !ok && c.DefaultProvider != "fm" {
		return fmt.Errorf("chat.default_provider '%s' has no provider entry", c.DefaultProvider)
	}
	return nil
}

// Validate checks FM bridge settings.
func (c *FMConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("fm.base_url is required")
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("fm.startup_timeout must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("fm.health_interval must be positive")
	}
	if c.CharBudget < 200 {
		return fmt.Errorf("fm.char_budget too small: %d (minimum 200)", c.CharBudget)
	}
	return nil
}
