package hillclimb

import (
	"fmt"
	"strings"

	"github.com/openagents/gym/internal/store"
)

// maxMetaHintLen rejects runaway meta replies; a hint longer than this is
// treated as keep.
const maxMetaHintLen = 500

// buildMetaPrompt renders the meta-reasoner prompt: current config, the run
// that just finished, and the condensed history with tried hints it must not
// repeat.
func buildMetaPrompt(cfg ConfigInput, result *TaskRunResult, hist *store.History) string {
	var b strings.Builder

	b.WriteString("You tune the hint given to a small coding agent before it attempts a task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", cfg.TaskID)
	fmt.Fprintf(&b, "Current hint: %q\n", cfg.Hint)

	outcome := "FAILED"
	if result.Passed {
		outcome = "PASSED"
	}
	fmt.Fprintf(&b, "Last run: %s in %d turns\n", outcome, result.Turns)
	if result.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", truncateTo(result.ErrorMessage, 200))
	}
	if len(result.StepSummary) > 0 {
		fmt.Fprintf(&b, "Steps: %s\n", strings.Join(result.StepSummary, "; "))
	}

	if hist != nil && hist.TotalRuns > 0 {
		fmt.Fprintf(&b, "\nHistory: %d runs, %d passed (%.0f%% pass rate)\n",
			hist.TotalRuns, hist.TotalPasses, hist.PassRate*100)
		if hist.BestHint != "" {
			fmt.Fprintf(&b, "Best hint so far (score %.2f): %q\n", hist.BestScore, hist.BestHint)
		}
		if len(hist.TriedHints) > 0 {
			b.WriteString("Already tried hints:\n")
			for _, h := range hist.TriedHints {
				fmt.Fprintf(&b, "- %q\n", truncateTo(h, 50))
			}
		}
		if len(hist.Recent) > 0 {
			b.WriteString("Recent outcomes:\n")
			for _, o := range hist.Recent {
				res := "FAIL"
				if o.Passed {
					res = "PASS"
				}
				fmt.Fprintf(&b, "- run %d: %s in %d turns", o.RunNumber, res, o.Turns)
				if o.ErrorMessage != "" {
					fmt.Fprintf(&b, " (%s)", truncateTo(o.ErrorMessage, 60))
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nReply with ONE improved hint for the next run (one or two short sentences), ")
	b.WriteString("or KEEP to keep the current hint. Never repeat an already-tried hint. ")
	b.WriteString("Reply with the hint text only, no preamble.")
	return b.String()
}

// parseMetaReply interprets the meta-reasoner's answer. Returns the proposed
// hint, or keep=true when the reply opts out: literal KEEP, "KEEP THE
// CURRENT...", NO CHANGE, an empty reply, or one past the length cap.
func parseMetaReply(raw string) (hint string, keep bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxMetaHintLen {
		return "", true
	}

	upper := strings.ToUpper(trimmed)
	upper = strings.TrimRight(upper, ".!")
	if upper == "KEEP" || upper == "NO CHANGE" || strings.HasPrefix(upper, "KEEP THE CURRENT") {
		return "", true
	}

	return trimQuotes(trimmed), false
}

// trimQuotes strips one layer of wrapping quotes or backticks.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "`"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func truncateTo(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
