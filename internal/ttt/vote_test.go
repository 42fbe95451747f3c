package ttt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalJSONCollapsesEquivalentForms checks that a struct and a map
// with the same fields, and int and float spellings of the same number, all
// canonicalize to one string.
func TestCanonicalJSONCollapsesEquivalentForms(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	a, err := CanonicalJSON(point{X: 1, Y: 2})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"y": 2.0, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	n, err := CanonicalJSON(3)
	require.NoError(t, err)
	f, err := CanonicalJSON(3.0)
	require.NoError(t, err)
	assert.Equal(t, n, f)
}

// TestEqual covers structural equality across nesting, number spellings, and
// the string/number distinction.
func TestEqual(t *testing.T) {
	assert.True(t, Equal(
		[]any{1, map[string]any{"a": "b"}},
		[]any{1.0, map[string]any{"a": "b"}},
	))
	assert.False(t, Equal("1", 1))
	assert.False(t, Equal([]any{1, 2}, []any{2, 1}))
}

// TestVoteWeighsByAccuracy verifies the 1 + 1000*accuracy weighting: two
// mid-accuracy votes for the same output outweigh one perfect vote.
func TestVoteWeighsByAccuracy(t *testing.T) {
	attempts := []Attempt{
		{Output: "plan-a", TrainingAccuracy: 0.9},
		{Output: "plan-b", TrainingAccuracy: 1.0},
		{Output: "plan-a", TrainingAccuracy: 0.8},
	}

	// plan-a: 901 + 801 = 1702, plan-b: 1001, total 2703.
	out, conf, err := Vote(attempts)
	require.NoError(t, err)
	assert.Equal(t, "plan-a", out)
	assert.InDelta(t, 1702.0/2703.0, conf, 1e-9)
}

// TestVoteAccuracyBeatsPopularity pits three zero-accuracy votes against one
// half-accuracy vote; the accurate minority wins.
func TestVoteAccuracyBeatsPopularity(t *testing.T) {
	attempts := []Attempt{
		{Output: "zero"},
		{Output: "zero"},
		{Output: "zero"},
		{Output: "half", TrainingAccuracy: 0.5},
	}

	out, conf, err := Vote(attempts)
	require.NoError(t, err)
	assert.Equal(t, "half", out)
	assert.InDelta(t, 501.0/504.0, conf, 1e-9)
}

// TestVoteTieGoesToFirst breaks exact weight ties in favor of the output
// seen earlier.
func TestVoteTieGoesToFirst(t *testing.T) {
	attempts := []Attempt{
		{Output: "x", TrainingAccuracy: 0.3},
		{Output: "y", TrainingAccuracy: 0.3},
	}

	out, conf, err := Vote(attempts)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
	assert.InDelta(t, 0.5, conf, 1e-9)
}

// TestVoteEmpty returns no prediction for an empty slate.
func TestVoteEmpty(t *testing.T) {
	out, conf, err := Vote(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, conf)
}

// TestVoteUnencodableOutput surfaces marshalling failures instead of
// silently dropping the attempt.
func TestVoteUnencodableOutput(t *testing.T) {
	_, _, err := Vote([]Attempt{{Output: make(chan int)}})
	assert.Error(t, err)
}
