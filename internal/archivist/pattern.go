package archivist

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/openagents/gym/internal/atif"
)

// Pattern types.
const (
	TypeSkill        = "skill"
	TypeOptimization = "optimization"
	TypeFailure      = "failure"
	TypeInsight      = "insight"
)

// Pattern is one candidate behavior mined from a trajectory.
type Pattern struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"` // skill, optimization, failure, insight
	Description string  `json:"description"`
	Content     string  `json:"content"` // reusable instruction text
	Confidence  float64 `json:"confidence"`
	Occurrences int     `json:"occurrences"`
	Signature   string  `json:"signature"`
}

// Extractor mines patterns from one trajectory.
type Extractor interface {
	Extract(ctx context.Context, t *atif.Trajectory) ([]Pattern, error)
}

// signatureSalt versions pattern signatures; bump when a signed tuple changes.
const signatureSalt = "openagents-pattern-v1"

// signature returns the salted blake3 identity of a pattern kind and its
// canonical payload, hex-truncated to 16 characters.
func signature(kind string, parts ...string) string {
	payload := signatureSalt + "\n" + kind + "\n" + strings.Join(parts, "\x1f")
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// confidenceFor maps an occurrence count to confidence as n/(n+1): a single
// occurrence stays below the promotion floor, repetition approaches 1.
func confidenceFor(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(n+1)
}

// maxSequenceLen caps mined tool-sequence windows. Longer chains almost never
// repeat verbatim at this trajectory scale.
const maxSequenceLen = 4

// HeuristicExtractor mines patterns with no model calls: repeated tool-call
// sequences and error-recovery pairs. It backs quick archives and is the
// fallback when no chat provider is reachable.
type HeuristicExtractor struct{}

// Extract implements Extractor. It never fails.
func (HeuristicExtractor) Extract(_ context.Context, t *atif.Trajectory) ([]Pattern, error) {
	patterns := mineToolSequences(t)
	return append(patterns, mineErrorRecoveries(t)...), nil
}

// mineToolSequences finds contiguous tool-name windows of length >= 2 that the
// agent ran at least twice. A shorter window fully covered by a longer one
// with the same count adds no evidence and is dropped.
func mineToolSequences(t *atif.Trajectory) []Pattern {
	var calls []string
	for _, step := range t.Steps {
		for _, tc := range step.ToolCalls {
			calls = append(calls, tc.FunctionName)
		}
	}
	// The shortest mineable repeat is a pair occurring twice.
	if len(calls) < 4 {
		return nil
	}

	maxLen := maxSequenceLen
	if maxLen > len(calls)/2 {
		maxLen = len(calls) / 2
	}
	counts := make(map[string]int)
	for l := 2; l <= maxLen; l++ {
		for i := 0; i+l <= len(calls); i++ {
			counts[strings.Join(calls[i:i+l], "\x1f")]++
		}
	}

	var keys []string
	for k, n := range counts {
		if n >= 2 {
			keys = append(keys, k)
		}
	}
	// Longest first, so covered subwindows are known before they come up.
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.Count(keys[i], "\x1f"), strings.Count(keys[j], "\x1f")
		if li != lj {
			return li > lj
		}
		return keys[i] < keys[j]
	})

	covered := make(map[string]bool)
	var patterns []Pattern
	for _, key := range keys {
		if covered[key] {
			continue
		}
		names := strings.Split(key, "\x1f")
		n := counts[key]
		for l := 2; l < len(names); l++ {
			for i := 0; i+l <= len(names); i++ {
				sub := strings.Join(names[i:i+l], "\x1f")
				if counts[sub] == n {
					covered[sub] = true
				}
			}
		}
		seq := strings.Join(names, ", ")
		patterns = append(patterns, Pattern{
			Name:        "tool sequence: " + strings.Join(names, " > "),
			Type:        TypeSkill,
			Description: fmt.Sprintf("the agent ran %s back to back %d times", seq, n),
			Content:     fmt.Sprintf("For similar tasks, chain %s in that order.", seq),
			Confidence:  confidenceFor(n),
			Occurrences: n,
			Signature:   signature("tool-sequence", names...),
		})
	}
	return patterns
}

// errorMarkers classify observation failures. Order matters: the first match
// names the error class in the pattern.
var errorMarkers = []string{
	"no such file",
	"not found",
	"permission denied",
	"command not found",
	"syntax error",
	"timed out",
	"error:",
}

// errorClass returns the first matching error marker in an observation, or ""
// for success.
func errorClass(content string) string {
	lower := strings.ToLower(content)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

// mineErrorRecoveries finds tool calls that failed and later succeeded with
// the same tool: one pattern per (tool, error class) pair, counting each
// recovered failure as an occurrence.
func mineErrorRecoveries(t *atif.Trajectory) []Pattern {
	type outcome struct {
		tool     string
		errClass string // "" on success
	}
	var history []outcome
	for _, step := range t.Steps {
		if len(step.ToolCalls) == 0 || step.Observation == nil {
			continue
		}
		results := make(map[string]string, len(step.Observation.Results))
		for _, r := range step.Observation.Results {
			results[r.SourceCallID] = r.Content
		}
		for _, tc := range step.ToolCalls {
			history = append(history, outcome{tool: tc.FunctionName, errClass: errorClass(results[tc.ToolCallID])})
		}
	}

	recoveries := make(map[string]int)
	for i, o := range history {
		if o.errClass == "" {
			continue
		}
		for _, later := range history[i+1:] {
			if later.tool == o.tool && later.errClass == "" {
				recoveries[o.tool+"\x1f"+o.errClass]++
				break
			}
		}
	}

	keys := make([]string, 0, len(recoveries))
	for k := range recoveries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var patterns []Pattern
	for _, key := range keys {
		tool, class, _ := strings.Cut(key, "\x1f")
		n := recoveries[key]
		patterns = append(patterns, Pattern{
			Name:        fmt.Sprintf("recovery: %s after %q", tool, class),
			Type:        TypeSkill,
			Description: fmt.Sprintf("%s failed with %q and a later call succeeded (%d recovered)", tool, class, n),
			Content:     fmt.Sprintf("When %s fails with %q, adjust the arguments and retry; the failure is recoverable.", tool, class),
			Confidence:  confidenceFor(n),
			Occurrences: n,
			Signature:   signature("error-recovery", tool, class),
		})
	}
	return patterns
}
