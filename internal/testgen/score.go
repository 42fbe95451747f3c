package testgen

import (
	"math"

	"github.com/openagents/gym/internal/store"
)

// scoreTestCap is where per-test credit saturates. Past this point more
// tests stop raising the score; only coverage and balance can.
const scoreTestCap = 20

// Score folds a generated suite into one comprehensiveness number in [0,10].
// The weights come from the store, so operators can retune scoring without a
// rebuild:
//
//	test_count           per-test credit, saturating at scoreTestCap
//	category_coverage    share of ideal-distribution categories covered
//	anti_cheat           anti-cheat presence, saturating at 3 tests
//	parameter_discovery  share of tests that pin a concrete expected output
//	balance_penalty      total-variation distance from the ideal distribution
//
// anti_cheat sits outside the ideal distribution and is scored by its own
// term, so its tests are excluded from the balance mass.
func Score(tests []Test, weights, ideal map[string]float64) float64 {
	if len(tests) == 0 {
		return 0
	}

	counts := make(map[string]int)
	antiCheat := 0
	withExpected := 0
	for _, t := range tests {
		counts[t.Category]++
		if t.Category == CategoryAntiCheat {
			antiCheat++
		}
		if t.ExpectedOutput != nil {
			withExpected++
		}
	}
	total := float64(len(tests))

	score := weights[store.WeightTestCount] * math.Min(total, scoreTestCap)
	score += weights[store.WeightAntiCheat] * math.Min(float64(antiCheat), 3) / 3
	score += weights[store.WeightParameterDiscovery] * float64(withExpected) / total

	if len(ideal) > 0 {
		covered, balanceTotal := 0, 0
		for cat := range ideal {
			if counts[cat] > 0 {
				covered++
			}
			balanceTotal += counts[cat]
		}
		score += weights[store.WeightCategoryCoverage] * float64(covered) / float64(len(ideal))
		if balanceTotal > 0 {
			var deviation float64
			for cat, want := range ideal {
				deviation += math.Abs(float64(counts[cat])/float64(balanceTotal) - want)
			}
			score -= weights[store.WeightBalancePenalty] * deviation / 2
		}
	}

	return math.Max(0, math.Min(10, score))
}
