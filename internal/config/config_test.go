package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultIsValid verifies the zero-configuration defaults pass validation.
func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "TB_10", cfg.Loop.StartSubset)
	assert.Equal(t, 0.8, cfg.Loop.ProgressionThreshold)
	assert.Equal(t, 3, cfg.Loop.MinIterationsBeforeProgression)
	assert.Equal(t, 10, cfg.HillClimb.AutoEvery)
	assert.Equal(t, 3, cfg.TestGen.MaxRoundsPerCategory)
	assert.Equal(t, 1100, cfg.FM.CharBudget)
	assert.Equal(t, 60*time.Second, cfg.FM.LockStaleAfter)
}

// TestLoadFromBytesMergesOverDefaults verifies a partial file only overrides
// what it names.
func TestLoadFromBytesMergesOverDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
loop:
  start_subset: TB_30
  progression_threshold: 0.9
hillclimb:
  auto_every: 5
`))
	require.NoError(t, err)
	assert.Equal(t, "TB_30", cfg.Loop.StartSubset)
	assert.Equal(t, 0.9, cfg.Loop.ProgressionThreshold)
	assert.Equal(t, 5, cfg.HillClimb.AutoEvery)
	// Untouched defaults survive.
	assert.Equal(t, 3, cfg.Loop.MinIterationsBeforeProgression)
	assert.Equal(t, "openrouter/auto", cfg.HillClimb.AutoModel)
}

// TestExpandEnvWithDefaults verifies ${VAR} and ${VAR:-default} expansion.
func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("GYM_TEST_SET", "from-env")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set variable", "${GYM_TEST_SET}", "from-env"},
		{"set variable ignores default", "${GYM_TEST_SET:-fallback}", "from-env"},
		{"unset with default", "${GYM_TEST_UNSET:-fallback}", "fallback"},
		{"unset without default", "${GYM_TEST_UNSET}", ""},
		{"embedded", "url: ${GYM_TEST_UNSET:-http://localhost:1234}/v1", "url: http://localhost:1234/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvWithDefaults(tt.in))
		})
	}
}

// TestApplyEnvOverrides verifies FM_BRIDGE_PATH and OPENAGENTS_WORKSPACE win
// over file values.
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FM_BRIDGE_PATH", "/opt/fm-bridge")
	t.Setenv("OPENAGENTS_WORKSPACE", "/srv/ws/.openagents")

	cfg, err := LoadFromBytes([]byte(`
fm:
  bridge_path: /usr/local/bin/fm-bridge
workspace: /home/dev/.openagents
`))
	require.NoError(t, err)
	assert.Equal(t, "/opt/fm-bridge", cfg.FM.BridgePath)
	assert.Equal(t, "/srv/ws/.openagents", cfg.Workspace)
}

// TestValidateRejectsBadValues verifies per-field validation messages.
func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad subset",
			mutate:  func(c *Config) { c.Loop.StartSubset = "TB_50" },
			wantErr: "loop.start_subset",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Loop.ProgressionThreshold = 1.5 },
			wantErr: "loop.progression_threshold",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Chat.Retry.MaxAttempts = 0 },
			wantErr: "chat.retry.max_attempts",
		},
		{
			name:    "unknown category",
			mutate:  func(c *Config) { c.TestGen.CategoryOrder = []string{"fuzzing"} },
			wantErr: "unknown category",
		},
		{
			name: "distribution does not sum",
			mutate: func(c *Config) {
				c.TestGen.Distribution = map[string]float64{"happy_path": 0.5}
			},
			wantErr: "must sum to 1.0",
		},
		{
			name:    "docker without image",
			mutate:  func(c *Config) { c.Sandbox.Backend = "docker"; c.Sandbox.Image = "" },
			wantErr: "sandbox.image",
		},
		{
			name:    "tiny char budget",
			mutate:  func(c *Config) { c.FM.CharBudget = 50 },
			wantErr: "fm.char_budget",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
