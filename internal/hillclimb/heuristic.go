package hillclimb

import "strings"

// Appendable phrases for common failure signatures. Matched
// case-insensitively against the run's error message.
var errorPhrases = []struct {
	needle string
	phrase string
}{
	{"file not found", "Verify the exact output path before writing; create it with write_file if missing."},
	{"no such file", "Verify the exact output path before writing; create it with write_file if missing."},
	{"permission denied", "Work only inside the task directory; never touch system paths."},
	{"syntax error", "Run the code once before finishing to catch syntax errors."},
}

const efficiencyPhrase = "Be direct and efficient."

// HeuristicChange proposes a config change without a meta-reasoner: seed an
// empty hint, nudge slow passes toward brevity, and append a targeted phrase
// for recognizable failure signatures. Anything else keeps the config.
func HeuristicChange(cfg ConfigInput, result *TaskRunResult, seed string) ConfigChange {
	if cfg.Hint == "" {
		if seed == "" {
			return ConfigChange{Type: ChangeKeep, Reasoning: "no hint and no seed available"}
		}
		return ConfigChange{Type: ChangeUpdateHint, NewHint: seed,
			Reasoning: "seeding empty hint from the task seed table"}
	}

	if result.Passed && result.Turns > 20 {
		return appendPhrase(cfg, efficiencyPhrase, "passed but took too many turns")
	}

	if !result.Passed && result.ErrorMessage != "" {
		lower := strings.ToLower(result.ErrorMessage)
		for _, ep := range errorPhrases {
			if strings.Contains(lower, ep.needle) {
				return appendPhrase(cfg, ep.phrase, "failure signature: "+ep.needle)
			}
		}
	}

	return ConfigChange{Type: ChangeKeep, Reasoning: "no heuristic applies"}
}

// appendPhrase extends the hint unless the phrase is already in it.
func appendPhrase(cfg ConfigInput, phrase, reasoning string) ConfigChange {
	if strings.Contains(cfg.Hint, phrase) {
		return ConfigChange{Type: ChangeKeep, Reasoning: reasoning + " (phrase already applied)"}
	}
	return ConfigChange{
		Type:      ChangeUpdateHint,
		NewHint:   strings.TrimSpace(cfg.Hint + " " + phrase),
		Reasoning: reasoning,
	}
}
