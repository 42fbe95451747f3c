// Package testgen synthesizes verification test suites for benchmark tasks
// without ever seeing the reference checks.
//
// DESIGN: Generation walks the configured categories in order. Each category
// runs up to a bounded number of rounds: a generate call asks the model for a
// JSON array of candidate tests, a reflect call asks the model to score its
// own coverage and pick the next action. A category ends when the reflector
// answers "continue" or the round budget runs out. Tests deduplicate across
// categories on normalized input; the first category to produce an input
// owns it. Every stage streams HUD events, and any stage error halts the
// whole task after emitting testgen_error.
package testgen

// Test categories, in the default generation order.
const (
	CategoryAntiCheat    = "anti_cheat"
	CategoryExistence    = "existence"
	CategoryFormat       = "format"
	CategoryHappyPath    = "happy_path"
	CategoryBoundary     = "boundary"
	CategoryEdgeCase     = "edge_case"
	CategoryInvalidInput = "invalid_input"
	CategoryIntegration  = "integration"
)

// Reflection actions. "continue" means the category is covered and
// generation moves on; the other two request another round.
const (
	ActionContinue          = "continue"
	ActionMoreTests         = "more_tests"
	ActionDifferentApproach = "different_approach"
)

// Test is one generated verification test. A nil ExpectedOutput means the
// input must produce nothing: zero regex matches, empty command output.
type Test struct {
	ID             string  `json:"id"`
	Category       string  `json:"category"`
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output"`
	Reasoning      string  `json:"reasoning,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// Reflection is the model's self-assessment after one generation round.
type Reflection struct {
	ComprehensivenessScore float64  `json:"comprehensiveness_score"`
	Gaps                   []string `json:"gaps,omitempty"`
	Action                 string   `json:"action"`
	ReflectionText         string   `json:"reflection_text,omitempty"`
}

// Result is a finished generation run for one task.
type Result struct {
	TaskID                 string         `json:"task_id"`
	Tests                  []Test         `json:"tests"`
	TotalRounds            int            `json:"total_rounds"`
	CategoryRounds         map[string]int `json:"category_rounds"`
	ComprehensivenessScore float64        `json:"comprehensiveness_score"`
	TotalTokensUsed        int            `json:"total_tokens_used"`
	DurationMS             int64          `json:"duration_ms"`
	Uncertainties          []string       `json:"uncertainties,omitempty"`
}
