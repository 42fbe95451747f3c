package hillclimb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openagents/gym/internal/store"
)

// TestParseMetaReply verifies the permissive reply interpretation rules.
func TestParseMetaReply(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantHint string
		wantKeep bool
	}{
		{"literal keep", "KEEP", "", true},
		{"keep with period", "Keep.", "", true},
		{"keep the current", "KEEP THE CURRENT HINT, it works fine", "", true},
		{"no change", "no change", "", true},
		{"empty", "   \n  ", "", true},
		{"too long", strings.Repeat("x", 501), "", true},
		{"plain hint", "Write the file in one step.", "Write the file in one step.", false},
		{"double quoted", `"Write the file in one step."`, "Write the file in one step.", false},
		{"single quoted", `'Check the path first.'`, "Check the path first.", false},
		{"backticked", "`Use run_command to verify.`", "Use run_command to verify.", false},
		{"whitespace wrapped", "  Trim me.  ", "Trim me.", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hint, keep := parseMetaReply(tc.raw)
			assert.Equal(t, tc.wantKeep, keep)
			assert.Equal(t, tc.wantHint, hint)
		})
	}
}

// TestBuildMetaPromptCarriesHistory verifies the prompt includes the run,
// history totals, tried hints, and the no-repeat guideline.
func TestBuildMetaPromptCarriesHistory(t *testing.T) {
	cfg := ConfigInput{TaskID: "regex-log", Hint: "current hint"}
	result := &TaskRunResult{Passed: false, Turns: 14, ErrorMessage: "no matches found",
		StepSummary: []string{"write_file regex.txt", "run_command check", "read_file log"}}
	hist := &store.History{
		TaskID:      "regex-log",
		TotalRuns:   7,
		TotalPasses: 3,
		PassRate:    3.0 / 7.0,
		BestHint:    "the best one",
		BestScore:   1.0,
		TriedHints:  []string{"tried A", "tried B"},
		Recent: []store.RunOutcome{
			{RunNumber: 7, Passed: true, Turns: 9},
			{RunNumber: 6, Passed: false, Turns: 20, ErrorMessage: "timeout"},
		},
	}

	prompt := buildMetaPrompt(cfg, result, hist)

	assert.Contains(t, prompt, "Task: regex-log")
	assert.Contains(t, prompt, `Current hint: "current hint"`)
	assert.Contains(t, prompt, "FAILED in 14 turns")
	assert.Contains(t, prompt, "no matches found")
	assert.Contains(t, prompt, "7 runs, 3 passed (43% pass rate)")
	assert.Contains(t, prompt, `"the best one"`)
	assert.Contains(t, prompt, `"tried A"`)
	assert.Contains(t, prompt, "run 7: PASS in 9 turns")
	assert.Contains(t, prompt, "Never repeat an already-tried hint")
}

// TestBuildMetaPromptTruncatesTriedHints verifies tried hints are cut to 50
// characters in the prompt.
func TestBuildMetaPromptTruncatesTriedHints(t *testing.T) {
	long := strings.Repeat("abcde ", 20) // 120 chars
	hist := &store.History{TotalRuns: 1, TriedHints: []string{long}}

	prompt := buildMetaPrompt(ConfigInput{TaskID: "t"}, &TaskRunResult{}, hist)

	assert.Contains(t, prompt, long[:50])
	assert.NotContains(t, prompt, long)
}
