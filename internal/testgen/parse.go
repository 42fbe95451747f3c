package testgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// defaultConfidence fills in for tests whose confidence is missing or out of
// range.
const defaultConfidence = 0.5

// Reply schemas. Validation is deliberately loose, shape only: models drift
// on optional fields, and a missing reasoning string should not kill a run.
// What must be present is what the pipeline cannot invent: a test without an
// input or a reflection without an action is unusable.
var (
	testArraySchema = jsonschema.MustCompileString("tests.json", `{
		"type": "array",
		"items": {"type": "object", "required": ["input"]}
	}`)

	reflectionSchema = jsonschema.MustCompileString("reflection.json", `{
		"type": "object",
		"required": ["action"]
	}`)
)

// extractJSON pulls the first JSON value bracketed by open/closer out of a
// model reply, tolerating prose and code fences around it.
func extractJSON(raw string, open, closer byte) (string, error) {
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
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closer)
	if start < 0 || end <= start {
		return "", fmt.Errorf("no %c...%c block in reply", open, closer)
	}
	s = s[start : end+1]
	if !gjson.Valid(s) {
		return "", fmt.Errorf("reply contains malformed JSON")
	}
	return s, nil
}

func validate(schema *jsonschema.Schema, doc string) error {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// ParseTests decodes one generate-round reply into tests for category. The
// shape is schema-checked; field values are coerced permissively, so a
// numeric input or confidence string still comes through.
func ParseTests(raw, category string) ([]Test, error) {
	doc, err := extractJSON(raw, '[', ']')
	if err != nil {
		return nil, fmt.Errorf("parsing %s tests: %w", category, err)
	}
	if err := validate(testArraySchema, doc); err != nil {
		return nil, fmt.Errorf("parsing %s tests: %w", category, err)
	}

	var tests []Test
	gjson.Parse(doc).ForEach(func(_, item gjson.Result) bool {
		t := Test{
			ID:         item.Get("id").String(),
			Category:   category,
			Input:      item.Get("input").String(),
			Reasoning:  item.Get("reasoning").String(),
			Confidence: item.Get("confidence").Float(),
		}
		if exp := item.Get("expectedOutput"); exp.Exists() && exp.Type != gjson.Null {
			s := exp.String()
			t.ExpectedOutput = &s
		}
		if t.Confidence <= 0 || t.Confidence > 1 {
			t.Confidence = defaultConfidence
		}
		tests = append(tests, t)
		return true
	})
	return tests, nil
}

// ParseReflection decodes one reflect-round reply. Unknown actions demote to
// more_tests, which costs at most one extra round; the score clamps to the
// documented [0,10] range.
func ParseReflection(raw string) (*Reflection, error) {
	doc, err := extractJSON(raw, '{', '}')
	if err != nil {
		return nil, fmt.Errorf("parsing reflection: %w", err)
	}
	if err := validate(reflectionSchema, doc); err != nil {
		return nil, fmt.Errorf("parsing reflection: %w", err)
	}

	r := gjson.Parse(doc)
	refl := &Reflection{
		ComprehensivenessScore: r.Get("comprehensivenessScore").Float(),
		Action:                 normalizeAction(r.Get("action").String()),
		ReflectionText:         r.Get("reflectionText").String(),
	}
	for _, g := range r.Get("gaps").Array() {
		if s := strings.TrimSpace(g.String()); s != "" {
			refl.Gaps = append(refl.Gaps, s)
		}
	}
	if refl.ComprehensivenessScore < 0 {
		refl.ComprehensivenessScore = 0
	}
	if refl.ComprehensivenessScore > 10 {
		refl.ComprehensivenessScore = 10
	}
	return refl, nil
}

// normalizeAction maps sloppy model phrasing onto the three known actions.
// "continue" is the stop signal, so synonyms for done land there.
func normalizeAction(a string) string {
	switch strings.ToLower(strings.TrimSpace(a)) {
	case ActionContinue, "done", "sufficient", "stop":
		return ActionContinue
	case ActionDifferentApproach, "different-approach", "change_approach":
		return ActionDifferentApproach
	default:
		return ActionMoreTests
	}
}

// NormalizeInput is the cross-category dedup key: whitespace collapsed, case
// preserved. Inputs are test data, so casing is significant.
func NormalizeInput(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
