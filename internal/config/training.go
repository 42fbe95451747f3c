package config

import (
	"fmt"
	"time"
)

// HillClimbConfig configures the per-task hill-climber and its meta-reasoner.
type HillClimbConfig struct {
	FreeModel string            `yaml:"free_model"` // meta model used on every run
	AutoModel string            `yaml:"auto_model"` // auto-routing model for deep analysis
	AutoEvery int               `yaml:"auto_every"` // use AutoModel every Nth run
	SeedHints map[string]string `yaml:"seed_hints"` // per-task overrides of the built-in seed table
}

// TestGenConfig configures the iterative test generator.
type TestGenConfig struct {
	Model                string             `yaml:"model"`          // chat model for generation + reflection
	CategoryOrder        []string           `yaml:"category_order"` // subset / reordering of the known categories
	MaxRoundsPerCategory int                `yaml:"max_rounds_per_category"`
	MaxTestsPerRound     int                `yaml:"max_tests_per_round"`
	Distribution         map[string]float64 `yaml:"distribution"` // ideal category shares
}

// ArchivistConfig configures post-hoc trajectory mining.
type ArchivistConfig struct {
	MinConfidence        float64       `yaml:"min_confidence"`  // pattern acceptance floor
	MinOccurrences       int           `yaml:"min_occurrences"` // pattern acceptance floor
	MaxTrajectoryAgeDays int           `yaml:"max_trajectory_age_days"` // 0 disables pruning
	SkillPruneAfterDays  int           `yaml:"skill_prune_after_days"`  // learned-skill grace period
	SkillPruneMaxUsage   int           `yaml:"skill_prune_max_usage"`   // prune below this usage count
	WatchDebounce        time.Duration `yaml:"watch_debounce"`          // fsnotify settle delay
}

// LoopConfig configures the progressive training loop runner.
type LoopConfig struct {
	StartSubset                    string        `yaml:"start_subset"`
	MaxDuration                    time.Duration `yaml:"max_duration"`    // 0 = unlimited
	MaxIterations                  int           `yaml:"max_iterations"`  // 0 = unlimited
	IterationDelay                 time.Duration `yaml:"iteration_delay"` // pause between iterations
	ProgressionThreshold           float64       `yaml:"progression_threshold"`
	MinIterationsBeforeProgression int           `yaml:"min_iterations_before_progression"`
	AutoResume                     bool          `yaml:"auto_resume"`
}

// HUDConfig configures the websocket event stream and metrics listener.
type HUDConfig struct {
	Listen string `yaml:"listen"`
}

// SandboxConfig selects and configures the command execution backend.
type SandboxConfig struct {
	Backend string        `yaml:"backend"` // local|docker
	Image   string        `yaml:"image"`   // docker image
	Workdir string        `yaml:"workdir"` // working directory inside the sandbox
	Timeout time.Duration `yaml:"timeout"` // per-command ceiling
}

func defaultHillClimbConfig() HillClimbConfig {
	return HillClimbConfig{
		FreeModel: "meta-llama/llama-3.3-70b-instruct:free",
		AutoModel: "openrouter/auto",
		AutoEvery: 10,
	}
}

func defaultTestGenConfig() TestGenConfig {
	return TestGenConfig{
		Model:                "openrouter/auto",
		MaxRoundsPerCategory: 3,
		MaxTestsPerRound:     8,
		CategoryOrder: []string{
			"anti_cheat", "existence", "format", "happy_path",
			"boundary", "edge_case", "invalid_input", "integration",
		},
		Distribution: map[string]float64{
			"existence":     0.05,
			"format":        0.10,
			"happy_path":    0.25,
			"boundary":      0.20,
			"edge_case":     0.25,
			"invalid_input": 0.10,
			"integration":   0.05,
		},
	}
}

func defaultArchivistConfig() ArchivistConfig {
	return ArchivistConfig{
		MinConfidence:        0.6,
		MinOccurrences:       2,
		MaxTrajectoryAgeDays: 0,
		SkillPruneAfterDays:  7,
		SkillPruneMaxUsage:   2,
		WatchDebounce:        2 * time.Second,
	}
}

func defaultLoopConfig() LoopConfig {
	return LoopConfig{
		StartSubset:                    "TB_10",
		IterationDelay:                 5 * time.Second,
		ProgressionThreshold:           0.8,
		MinIterationsBeforeProgression: 3,
		AutoResume:                     true,
	}
}

func defaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Backend: "local",
		Image:   "python:3.11-slim",
		Workdir: "/app",
		Timeout: 2 * time.Minute,
	}
}

var knownCategories = map[string]bool{
	"anti_cheat": true, "existence": true, "format": true, "happy_path": true,
	"boundary": true, "edge_case": true, "invalid_input": true,
	"integration": true, "correctness": true,
}

// Validate checks hill-climber settings.
func (c *HillClimbConfig) Validate() error {
	if c.FreeModel == "" {
		return fmt.Errorf("hillclimb.free_model is required")
	}
	if c.AutoModel == "" {
		return fmt.Errorf("hillclimb.auto_model is required")
	}
	if c.AutoEvery < 1 {
		return fmt.Errorf("hillclimb.auto_every must be >= 1, got %d", c.AutoEvery)
	}
	return nil
}

// Validate checks test generator settings.
func (c *TestGenConfig) Validate() error {
	if c.MaxRoundsPerCategory < 1 {
		return fmt.Errorf("testgen.max_rounds_per_category must be >= 1, got %d", c.MaxRoundsPerCategory)
	}
	if len(c.CategoryOrder) == 0 {
		return fmt.Errorf("testgen.category_order must not be empty")
	}
	for _, cat := range c.CategoryOrder {
		if !knownCategories[cat] {
			return fmt.Errorf("testgen.category_order contains unknown category '%s'", cat)
		}
	}
	var sum float64
	for cat, share := range c.Distribution {
		if !knownCategories[cat] {
			return fmt.Errorf("testgen.distribution contains unknown category '%s'", cat)
		}
		if share < 0 {
			return fmt.Errorf("testgen.distribution share for '%s' must be >= 0", cat)
		}
		sum += share
	}
	if len(c.Distribution) > 0 && (sum < 0.99 || sum > 1.01) {
		return fmt.Errorf("testgen.distribution must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// Validate checks archivist settings.
func (c *ArchivistConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("archivist.min_confidence must be in [0,1], got %.2f", c.MinConfidence)
	}
	if c.MinOccurrences < 1 {
		return fmt.Errorf("archivist.min_occurrences must be >= 1, got %d", c.MinOccurrences)
	}
	return nil
}

// Validate checks loop runner settings.
func (c *LoopConfig) Validate() error {
	switch c.StartSubset {
	case "TB_10", "TB_30", "TB_89":
	default:
		return fmt.Errorf("loop.start_subset must be one of TB_10, TB_30, TB_89; got '%s'", c.StartSubset)
	}
	if c.ProgressionThreshold <= 0 || c.ProgressionThreshold > 1 {
		return fmt.Errorf("loop.progression_threshold must be in (0,1], got %.2f", c.ProgressionThreshold)
	}
	if c.MinIterationsBeforeProgression < 1 {
		return fmt.Errorf("loop.min_iterations_before_progression must be >= 1, got %d", c.MinIterationsBeforeProgression)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("loop.max_duration must be >= 0")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must be >= 0")
	}
	return nil
}

// Validate checks sandbox settings.
func (c *SandboxConfig) Validate() error {
	switch c.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be 'local' or 'docker', got '%s'", c.Backend)
	}
	if c.Backend == "docker" && c.Image == "" {
		return fmt.Errorf("sandbox.image is required for the docker backend")
	}
	return nil
}
