package archivist

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/atif"
)

// toolStep builds one agent step holding a single tool call and its result.
func toolStep(callID, tool, result string) atif.Step {
	s := atif.NewAgentStep("", "test-model")
	s.ToolCalls = []atif.ToolCall{{ToolCallID: callID, FunctionName: tool, Arguments: map[string]any{}}}
	s.Observation = &atif.Observation{Results: []atif.ObservationResult{{SourceCallID: callID, Content: result}}}
	return s
}

// fixtureTrajectory runs the given tools in order, each returning its paired
// result ("" means "ok").
func fixtureTrajectory(tools []string, results []string) *atif.Trajectory {
	t := atif.NewTrajectory("session-2026-02-10T10-00-00-abc123", atif.Agent{Name: "openagents", Version: "0.4.0"})
	t.AddStep(atif.NewUserStep("Sum two integers read from stdin."))
	for i, tool := range tools {
		result := "ok"
		if i < len(results) && results[i] != "" {
			result = results[i]
		}
		t.AddStep(toolStep(fmt.Sprintf("call-%d", i+1), tool, result))
	}
	return t
}

// TestMineToolSequencesKeepsLongestRepeat finds the repeated read>edit>test
// chain and drops the shorter windows it fully covers.
func TestMineToolSequencesKeepsLongestRepeat(t *testing.T) {
	traj := fixtureTrajectory([]string{"read_file", "edit_file", "run_tests", "read_file", "edit_file", "run_tests"}, nil)

	patterns := mineToolSequences(traj)
	require.Len(t, patterns, 1, "read>edit and edit>test are covered by the full chain")

	p := patterns[0]
	assert.Equal(t, "tool sequence: read_file > edit_file > run_tests", p.Name)
	assert.Equal(t, TypeSkill, p.Type)
	assert.Equal(t, 2, p.Occurrences)
	assert.InDelta(t, 2.0/3.0, p.Confidence, 1e-9)
	assert.Contains(t, p.Content, "read_file, edit_file, run_tests")
}

// TestMineToolSequencesKeepsPairAcrossContexts keeps a pair that repeats even
// when no longer window around it does.
func TestMineToolSequencesKeepsPairAcrossContexts(t *testing.T) {
	traj := fixtureTrajectory([]string{
		"read_file", "edit_file", "grep",
		"read_file", "edit_file", "lint",
		"read_file", "edit_file",
	}, nil)

	patterns := mineToolSequences(traj)
	require.Len(t, patterns, 1)
	assert.Equal(t, "tool sequence: read_file > edit_file", patterns[0].Name)
	assert.Equal(t, 3, patterns[0].Occurrences)
	assert.InDelta(t, 0.75, patterns[0].Confidence, 1e-9)
}

// TestMineToolSequencesNeedsFourCalls ignores trajectories too short to hold
// a repeated pair.
func TestMineToolSequencesNeedsFourCalls(t *testing.T) {
	traj := fixtureTrajectory([]string{"read_file", "edit_file", "read_file"}, nil)
	assert.Empty(t, mineToolSequences(traj))
}

// TestMineToolSequencesNoRepeats returns nothing when every window is unique.
func TestMineToolSequencesNoRepeats(t *testing.T) {
	traj := fixtureTrajectory([]string{"a", "b", "c", "d", "e"}, nil)
	assert.Empty(t, mineToolSequences(traj))
}

// TestMineErrorRecoveriesPairsFailureWithLaterSuccess turns a failed bash
// call followed by a successful one into a recovery pattern.
func TestMineErrorRecoveriesPairsFailureWithLaterSuccess(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "bash"},
		[]string{"cat: /tmp/in.txt: No such file or directory", "ok"},
	)

	patterns := mineErrorRecoveries(traj)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, `recovery: bash after "no such file"`, p.Name)
	assert.Equal(t, TypeSkill, p.Type)
	assert.Equal(t, 1, p.Occurrences)
	assert.InDelta(t, 0.5, p.Confidence, 1e-9, "single recovery stays below the promotion floor")
}

// TestMineErrorRecoveriesCountsEachRecoveredFailure counts every failed call
// that a later success answers.
func TestMineErrorRecoveriesCountsEachRecoveredFailure(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "bash", "bash"},
		[]string{"bash: xlint: command not found", "bash: xlint: command not found", "ok"},
	)

	patterns := mineErrorRecoveries(traj)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].Occurrences)
	assert.InDelta(t, 2.0/3.0, patterns[0].Confidence, 1e-9)
}

// TestMineErrorRecoveriesIgnoresUnrecovered produces nothing when the tool
// never succeeds afterwards, even if a different tool does.
func TestMineErrorRecoveriesIgnoresUnrecovered(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "read_file"},
		[]string{"permission denied", "ok"},
	)
	assert.Empty(t, mineErrorRecoveries(traj))
}

// TestHeuristicExtractorMergesBothMiners returns sequence and recovery
// patterns from one pass.
func TestHeuristicExtractorMergesBothMiners(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"read_file", "edit_file", "read_file", "edit_file", "bash", "bash"},
		[]string{"", "", "", "", "syntax error near line 3", "ok"},
	)

	patterns, err := HeuristicExtractor{}.Extract(context.Background(), traj)
	require.NoError(t, err)

	var kinds []string
	for _, p := range patterns {
		kinds = append(kinds, p.Name)
	}
	assert.Contains(t, kinds, "tool sequence: read_file > edit_file")
	assert.Contains(t, kinds, `recovery: bash after "syntax error"`)
}

// TestSignatureShape checks length, alphabet, determinism, and sensitivity to
// kind and part order.
func TestSignatureShape(t *testing.T) {
	sig := signature("tool-sequence", "read_file", "edit_file")
	assert.Len(t, sig, 16)
	_, err := hex.DecodeString(sig)
	require.NoError(t, err)

	assert.Equal(t, sig, signature("tool-sequence", "read_file", "edit_file"))
	assert.NotEqual(t, sig, signature("error-recovery", "read_file", "edit_file"))
	assert.NotEqual(t, sig, signature("tool-sequence", "edit_file", "read_file"))
}

func TestConfidenceFor(t *testing.T) {
	assert.Zero(t, confidenceFor(0))
	assert.InDelta(t, 0.5, confidenceFor(1), 1e-9)
	assert.InDelta(t, 2.0/3.0, confidenceFor(2), 1e-9)
	assert.Greater(t, confidenceFor(10), confidenceFor(3))
	assert.Less(t, confidenceFor(1000), 1.0)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "no such file", errorClass("cat: x: No Such File or directory"))
	assert.Equal(t, "timed out", errorClass("process timed out after 30s"))
	assert.Equal(t, "error:", errorClass("Error: invalid literal for int()"))
	assert.Empty(t, errorClass("all 12 tests passed"))
}
