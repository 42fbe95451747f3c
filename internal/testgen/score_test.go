package testgen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openagents/gym/internal/store"
)

var idealDistribution = map[string]float64{
	CategoryExistence:    0.05,
	CategoryFormat:       0.10,
	CategoryHappyPath:    0.25,
	CategoryBoundary:     0.20,
	CategoryEdgeCase:     0.25,
	CategoryInvalidInput: 0.10,
	CategoryIntegration:  0.05,
}

func makeTests(category string, n int, withExpected bool) []Test {
	out := make([]Test, 0, n)
	for i := 0; i < n; i++ {
		t := Test{
			ID:       fmt.Sprintf("%s-%d", category, i+1),
			Category: category,
			Input:    fmt.Sprintf("%s input %d", category, i+1),
		}
		if withExpected {
			s := "expected"
			t.ExpectedOutput = &s
		}
		out = append(out, t)
	}
	return out
}

// TestScoreIdealSuite hits every term at its ceiling: 20 tests spread in
// exactly the ideal proportions plus 3 anti-cheat tests, all with concrete
// expected outputs, score 9 under the default weights.
func TestScoreIdealSuite(t *testing.T) {
	var tests []Test
	tests = append(tests, makeTests(CategoryExistence, 1, true)...)
	tests = append(tests, makeTests(CategoryFormat, 2, true)...)
	tests = append(tests, makeTests(CategoryHappyPath, 5, true)...)
	tests = append(tests, makeTests(CategoryBoundary, 4, true)...)
	tests = append(tests, makeTests(CategoryEdgeCase, 5, true)...)
	tests = append(tests, makeTests(CategoryInvalidInput, 2, true)...)
	tests = append(tests, makeTests(CategoryIntegration, 1, true)...)
	tests = append(tests, makeTests(CategoryAntiCheat, 3, true)...)

	score := Score(tests, store.DefaultWeights, idealDistribution)
	assert.InDelta(t, 9.0, score, 1e-9)
}

// TestScoreEmptySuite scores an empty suite as zero.
func TestScoreEmptySuite(t *testing.T) {
	assert.Zero(t, Score(nil, store.DefaultWeights, idealDistribution))
}

// TestScoreLopsidedSuite penalizes a suite that is all happy path: the
// balance penalty exactly cancels the per-test credit, leaving only the
// single covered category.
func TestScoreLopsidedSuite(t *testing.T) {
	tests := makeTests(CategoryHappyPath, 10, false)

	score := Score(tests, store.DefaultWeights, idealDistribution)
	assert.InDelta(t, 3.0/7.0, score, 1e-9)
}

// TestScoreClamps pins the score to [0,10] under extreme weights.
func TestScoreClamps(t *testing.T) {
	tests := makeTests(CategoryHappyPath, 10, false)

	floor := Score(tests, map[string]float64{store.WeightBalancePenalty: 100}, idealDistribution)
	assert.Zero(t, floor)

	ceiling := Score(tests, map[string]float64{store.WeightTestCount: 100}, idealDistribution)
	assert.InDelta(t, 10.0, ceiling, 1e-9)
}

// TestScoreAntiCheatSaturates caps anti-cheat credit at three tests.
func TestScoreAntiCheatSaturates(t *testing.T) {
	three := Score(makeTests(CategoryAntiCheat, 3, false),
		map[string]float64{store.WeightAntiCheat: 2}, nil)
	ten := Score(makeTests(CategoryAntiCheat, 10, false),
		map[string]float64{store.WeightAntiCheat: 2}, nil)
	assert.InDelta(t, 2.0, three, 1e-9)
	assert.InDelta(t, 2.0, ten, 1e-9)
}
