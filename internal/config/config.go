// Package config loads and validates the harness configuration.
//
// DESIGN: YAML with ${VAR} / ${VAR:-default} expansion applied to the raw
// bytes before unmarshal, then environment overrides, then validation.
// Unlike a server deployment, the harness must run with zero configuration:
// Default() yields a fully working config and Load merges the file over it.
//
// FILES:
//   - config.go:   Root Config, Load(), Default(), Validate()
//   - chat.go:     Chat provider endpoints, retry, FM bridge settings
//   - training.go: Hill-climber, test generator, archivist, loop runner
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/openagents/gym/internal/logging"
)

// Config is the root configuration for the harness.
type Config struct {
	Workspace string          `yaml:"workspace"` // explicit workspace root (optional)
	Logging   logging.Config  `yaml:"logging"`   // level, format, output
	Chat      ChatConfig      `yaml:"chat"`      // provider endpoints and retry
	FM        FMConfig        `yaml:"fm"`        // local Foundation-Model bridge
	HillClimb HillClimbConfig `yaml:"hillclimb"` // meta-reasoner models and cadence
	TestGen   TestGenConfig   `yaml:"testgen"`   // category order, rounds, distribution
	Archivist ArchivistConfig `yaml:"archivist"` // pattern thresholds, pruning, watch
	Loop      LoopConfig      `yaml:"loop"`      // progressive training runner
	HUD       HUDConfig       `yaml:"hud"`       // websocket event stream + metrics
	Sandbox   SandboxConfig   `yaml:"sandbox"`   // command execution backend
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ExpandEnvWithDefaults is the exported form used by prompt templates.
func ExpandEnvWithDefaults(s string) string {
	return expandEnvWithDefaults(s)
}

// Default returns the zero-configuration defaults. Every component runs on
// these; a config file only overrides.
func Default() *Config {
	return &Config{
		Logging:   logging.Config{Level: "info", Format: "auto", Output: "stderr"},
		Chat:      defaultChatConfig(),
		FM:        defaultFMConfig(),
		HillClimb: defaultHillClimbConfig(),
		TestGen:   defaultTestGenConfig(),
		Archivist: defaultArchivistConfig(),
		Loop:      defaultLoopConfig(),
		HUD:       HUDConfig{Listen: ":9090"},
		Sandbox:   defaultSandboxConfig(),
	}
}

// Load reads configuration from a YAML file, merging over Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes over Default().
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when given, else the first of gym.yaml or
// .openagents/gym.yaml that exists, else Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	for _, candidate := range []string{"gym.yaml", ".openagents/gym.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	cfg := Default()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides so harnesses and
// CI can redirect paths without editing config files.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("OPENAGENTS_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if p := os.Getenv("FM_BRIDGE_PATH"); p != "" {
		c.FM.BridgePath = p
	}
	if u := os.Getenv("FM_BRIDGE_URL"); u != "" {
		c.FM.BaseURL = u
	}
	if lvl := os.Getenv("GYM_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Chat.Validate(); err != nil {
		return err
	}
	if err := c.FM.Validate(); err != nil {
		return err
	}
	if err := c.HillClimb.Validate(); err != nil {
		return err
	}
	if err := c.TestGen.Validate(); err != nil {
		return err
	}
	if err := c.Archivist.Validate(); err != nil {
		return err
	}
	if err := c.Loop.Validate(); err != nil {
		return err
	}
	if err := c.Sandbox.Validate(); err != nil {
		return err
	}
	return nil
}
