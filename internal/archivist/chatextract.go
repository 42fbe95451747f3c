package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/chat"
)

// maxPromptSteps caps how much of a trajectory the pattern model sees; longer
// sessions are rendered head and tail with the middle elided.
const maxPromptSteps = 30

// defaultPatternConfidence fills in for model patterns whose confidence is
// missing or out of range. Deliberately below the promotion floor: a pattern
// of unstated strength should not become a skill.
const defaultPatternConfidence = 0.5

// patternArraySchema is shape-only; field values are coerced permissively.
var patternArraySchema = jsonschema.MustCompileString("patterns.json", `{
	"type": "array",
	"items": {"type": "object", "required": ["name", "type", "content"]}
}`)

// ChatExtractor asks a chat model for patterns and merges in the heuristic
// harvest, so an unreachable or rambling model never loses the mined
// baseline.
type ChatExtractor struct {
	chat      chat.Client
	model     string
	heuristic HeuristicExtractor
	logger    zerolog.Logger
}

// NewChatExtractor wires a model-backed extractor. chatClient is usually the
// provider registry.
func NewChatExtractor(chatClient chat.Client, model string, logger zerolog.Logger) *ChatExtractor {
	return &ChatExtractor{
		chat:   chatClient,
		model:  model,
		logger: logger.With().Str("component", "archivist.extract").Logger(),
	}
}

// Extract implements Extractor. Model failures degrade to the heuristic
// result instead of erroring, matching how the hill-climber treats its meta
// reasoner.
func (e *ChatExtractor) Extract(ctx context.Context, t *atif.Trajectory) ([]Pattern, error) {
	mined, _ := e.heuristic.Extract(ctx, t)

	resp, err := e.chat.Chat(ctx, chat.Request{
		Model:    e.model,
		Messages: []chat.Message{{Role: "user", Content: extractPrompt(t)}},
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("model", e.model).Msg("pattern model unreachable, heuristic only")
		return mined, nil
	}
	found, err := parsePatterns(resp.Text())
	if err != nil {
		e.logger.Debug().Err(err).Str("session_id", t.SessionID).Msg("pattern reply unusable, heuristic only")
		return mined, nil
	}
	return append(mined, found...), nil
}

// extractPrompt renders a compact transcript plus the reply contract.
func extractPrompt(t *atif.Trajectory) string {
	var b strings.Builder
	b.WriteString("You review an agent's task trajectory and extract reusable patterns.\n\n")
	fmt.Fprintf(&b, "Session %s, agent %s.\n", t.SessionID, t.Agent.Name)
	b.WriteString("Transcript:\n")

	steps := t.Steps
	if len(steps) > maxPromptSteps {
		half := maxPromptSteps / 2
		for _, s := range steps[:half] {
			renderStep(&b, s)
		}
		fmt.Fprintf(&b, "... %d steps omitted ...\n", len(steps)-maxPromptSteps)
		for _, s := range steps[len(steps)-half:] {
			renderStep(&b, s)
		}
	} else {
		for _, s := range steps {
			renderStep(&b, s)
		}
	}

	b.WriteString("\nReply with a JSON array of patterns:\n")
	b.WriteString(`[{"name": "...", "type": "skill|optimization|failure|insight", ` +
		`"description": "...", "content": "an imperative instruction reusable on similar tasks", ` +
		`"confidence": 0.0-1.0, "occurrences": <times the behavior appears>}]` + "\n")
	b.WriteString("Reply [] when nothing generalizes. JSON only, no preamble.")
	return b.String()
}

func renderStep(b *strings.Builder, s atif.Step) {
	switch s.Source {
	case atif.StepSourceUser:
		fmt.Fprintf(b, "user: %s\n", clipText(s.Message, 200))
	case atif.StepSourceAgent:
		if len(s.ToolCalls) == 0 && s.Message != "" {
			fmt.Fprintf(b, "agent: %s\n", clipText(s.Message, 160))
		}
		for _, tc := range s.ToolCalls {
			fmt.Fprintf(b, "agent: %s(%s)\n", tc.FunctionName, renderArgs(tc.Arguments))
		}
		if s.Observation != nil {
			for _, r := range s.Observation.Results {
				fmt.Fprintf(b, "result: %s\n", clipText(firstLineOf(r.Content), 160))
			}
		}
	case atif.StepSourceSystem:
		fmt.Fprintf(b, "system: %s\n", clipText(s.Message, 120))
	}
}

// renderArgs flattens call arguments as sorted k=v pairs, clipped.
func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+clipText(fmt.Sprintf("%v", args[k]), 40))
	}
	return clipText(strings.Join(pairs, ", "), 120)
}

// parsePatterns decodes the model reply. Unknown types demote to insight;
// confidence defaults and clamps; occurrences floor at 1. Unusable entries
// (no name or content) are dropped, not fatal.
func parsePatterns(raw string) ([]Pattern, error) {
	doc, err := jsonArrayIn(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing patterns: %w", err)
	}
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("parsing patterns: %w", err)
	}
	if err := patternArraySchema.Validate(v); err != nil {
		return nil, fmt.Errorf("parsing patterns: %w", err)
	}

	var patterns []Pattern
	gjson.Parse(doc).ForEach(func(_, item gjson.Result) bool {
		p := Pattern{
			Name:        strings.TrimSpace(item.Get("name").String()),
			Type:        normalizeType(item.Get("type").String()),
			Description: strings.TrimSpace(item.Get("description").String()),
			Content:     strings.TrimSpace(item.Get("content").String()),
			Confidence:  item.Get("confidence").Float(),
			Occurrences: int(item.Get("occurrences").Int()),
		}
		if p.Name == "" || p.Content == "" {
			return true
		}
		if p.Occurrences < 1 {
			p.Occurrences = 1
		}
		if p.Confidence <= 0 || p.Confidence > 1 {
			p.Confidence = defaultPatternConfidence
		}
		p.Signature = signature("model", p.Type, strings.ToLower(p.Name))
		patterns = append(patterns, p)
		return true
	})
	return patterns, nil
}

// jsonArrayIn pulls the first [...] block out of a reply, tolerating prose
// and code fences around it.
func jsonArrayIn(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON array in reply")
	}
	s = s[start : end+1]
	if !gjson.Valid(s) {
		return "", fmt.Errorf("reply contains malformed JSON")
	}
	return s, nil
}

// normalizeType maps sloppy model phrasing onto the four known types.
func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case TypeSkill, "strategy", "technique":
		return TypeSkill
	case TypeOptimization, "efficiency", "performance":
		return TypeOptimization
	case TypeFailure, "mistake", "bug", "antipattern", "anti-pattern":
		return TypeFailure
	default:
		return TypeInsight
	}
}

func clipText(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
