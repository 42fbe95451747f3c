package testgen

import (
	"fmt"
	"sort"
	"strings"
)

// categoryGuidance steers each generation round. The guidance is what makes
// one category's tests look different from another's.
var categoryGuidance = map[string]string{
	CategoryAntiCheat:    "Design tests that expose hard-coded or copied answers: unusual inputs whose outputs cannot be guessed without actually solving the task.",
	CategoryExistence:    "Check that the required artifacts, files, and entry points exist at all.",
	CategoryFormat:       "Check output format precisely: delimiters, casing, ordering, trailing whitespace.",
	CategoryHappyPath:    "Cover straightforward, representative inputs any correct solution must handle.",
	CategoryBoundary:     "Probe the edges of valid ranges: empty input, a single element, maximum sizes, off-by-one positions.",
	CategoryEdgeCase:     "Use unusual but valid inputs: repeated values, embedded delimiters, pathological ordering, mixed whitespace.",
	CategoryInvalidInput: "Feed malformed or out-of-contract inputs. Use a null expectedOutput when the solution must produce nothing.",
	CategoryIntegration:  "Combine several behaviors into one end-to-end scenario.",
}

func generatePrompt(task TaskSpec, category string, prior []Test, maxTests int) string {
	var b strings.Builder
	b.WriteString("You are generating verification tests for a task. Do not solve the task; design tests a correct solution passes and an incorrect one fails.\n\n")
	fmt.Fprintf(&b, "Task %s: %s\n\n", task.TaskID, task.Description)
	if task.Env != nil {
		b.WriteString("Environment:\n")
		b.WriteString(task.Env.Summary())
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Category: %s. %s\n", category, categoryGuidance[category])
	if len(prior) > 0 {
		b.WriteString("Already generated in this category, do not repeat:\n")
		for _, t := range prior {
			fmt.Fprintf(&b, "- %s\n", clip(t.Input, 80))
		}
	}
	fmt.Fprintf(&b, "\nReply with only a JSON array of at most %d objects, each "+
		`{"input": string, "expectedOutput": string or null, "reasoning": string, "confidence": number in [0,1]}.`+"\n", maxTests)
	return b.String()
}

func reflectPrompt(task TaskSpec, category string, tests []Test, round, maxRounds int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You generated %d tests for category %s of task %s (round %d of %d).\n",
		len(tests), category, task.TaskID, round, maxRounds)
	b.WriteString("Tests so far:\n")
	for _, t := range tests {
		expected := "null"
		if t.ExpectedOutput != nil {
			expected = clip(*t.ExpectedOutput, 60)
		}
		fmt.Fprintf(&b, "- input: %s -> %s\n", clip(t.Input, 80), expected)
	}
	b.WriteString("\nAssess whether this category is sufficiently covered. Reply with only a JSON object " +
		`{"comprehensivenessScore": number in [0,10], "gaps": [string], "action": "continue" | "more_tests" | "different_approach", "reflectionText": string}. ` +
		`Use "continue" when coverage is sufficient and generation should move to the next category.` + "\n")
	return b.String()
}

// Summary renders the environment as compact prompt context.
func (e *EnvironmentInfo) Summary() string {
	var b strings.Builder
	if e.Platform != "" {
		fmt.Fprintf(&b, "platform: %s\n", e.Platform)
	}
	if len(e.Languages) > 0 {
		names := make([]string, 0, len(e.Languages))
		for name := range e.Languages {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+" "+e.Languages[name].Version)
		}
		fmt.Fprintf(&b, "languages: %s\n", strings.Join(parts, ", "))
	}
	if len(e.Tools.Available) > 0 {
		fmt.Fprintf(&b, "tools: %s\n", strings.Join(e.Tools.Available, ", "))
	}
	for _, p := range e.Tools.Prohibited {
		fmt.Fprintf(&b, "prohibited: %s (%s)\n", p.Name, p.Reason)
	}
	if len(e.Files.Listing) > 0 {
		fmt.Fprintf(&b, "files: %s\n", strings.Join(e.Files.Listing, ", "))
	}
	for _, tf := range e.Files.TaskFiles {
		fmt.Fprintf(&b, "file %s (%s, %d lines)", tf.Path, tf.DetectedType, tf.LineCount)
		if tf.Structure != nil {
			if len(tf.Structure.Functions) > 0 {
				fmt.Fprintf(&b, " functions: %s", strings.Join(tf.Structure.Functions, ", "))
			}
			if len(tf.Structure.Variables) > 0 {
				fmt.Fprintf(&b, " variables: %s", strings.Join(tf.Structure.Variables, ", "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
