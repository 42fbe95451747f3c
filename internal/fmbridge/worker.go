package fmbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/openagents/gym/internal/chat"
)

// maxPromptChars bounds the worker prompt. The on-device models degrade
// sharply past a few hundred characters of instruction; a tiny fixed shape
// keeps them on task.
const maxPromptChars = 180

// WorkerInput is the material for one single-turn worker step.
type WorkerInput struct {
	Tools       []string // tool names the model may call
	Action      string   // the one thing to do this turn
	Context     string   // short situational note, optional
	PrevSummary string   // what the previous step did, optional
}

// ParsedToolCall is a tool invocation recovered from model output.
type ParsedToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseFailure classifies why a response yielded no tool call.
type ParseFailure string

const (
	FailureNoValidFormat ParseFailure = "no_valid_format"
	FailureJSONParse     ParseFailure = "json_parse_error"
	FailureMissingName   ParseFailure = "missing_tool_name"
	FailureEmptyResponse ParseFailure = "empty_response"
)

// ToolParseError is the structured record emitted when every parse stage
// fails. Callers store it in the step observation so failure modes stay
// minable from trajectories.
type ToolParseError struct {
	Type       string       `json:"type"` // always "FM_TOOL_PARSE_ERROR"
	Reason     ParseFailure `json:"reason"`
	RawSnippet string       `json:"raw_snippet"` // first 200 chars of the response
	Details    string       `json:"details,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

func (e *ToolParseError) Error() string {
	return fmt.Sprintf("fm tool parse failed (%s): %s", e.Reason, e.Details)
}

func newParseError(reason ParseFailure, raw, details string) *ToolParseError {
	return &ToolParseError{
		Type:       "FM_TOOL_PARSE_ERROR",
		Reason:     reason,
		RawSnippet: snippet(raw, 200),
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
}

// Worker drives the one-action-per-turn protocol: compose a bounded prompt,
// request one completion, recover the tool call from whatever shape the
// model produced.
type Worker struct {
	client chat.Client
	model  string
	logger zerolog.Logger
}

// NewWorker builds a worker on top of any chat client; in practice the
// bridge Client, but tests substitute fakes.
func NewWorker(client chat.Client, model string, logger zerolog.Logger) *Worker {
	return &Worker{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "fm-worker").Logger(),
	}
}

// Step runs one worker turn. It returns the parsed call and the raw model
// text; on parse failure the raw text still comes back so the caller can
// record it.
func (w *Worker) Step(ctx context.Context, in WorkerInput) (*ParsedToolCall, string, error) {
	prompt := BuildPrompt(in)
	resp, err := w.client.Chat(ctx, chat.Request{
		Model:    w.model,
		Messages: []chat.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, "", err
	}
	raw := resp.Text()
	call, perr := ParseToolCall(raw)
	if perr != nil {
		w.logger.Debug().Str("raw", snippet(raw, 120)).Err(perr).Msg("tool parse failed")
		return nil, raw, perr
	}
	return call, raw, nil
}

// BuildPrompt composes the fixed-shape worker prompt: tools, one action,
// optional context and previous summary, then the <tool_call> opener that
// primes the model's answer format. Output never exceeds maxPromptChars;
// optional lines are dropped before mandatory ones are clipped.
func BuildPrompt(in WorkerInput) string {
	const opener = "<tool_call>"

	tools := clip("Tools: "+strings.Join(in.Tools, ","), 70)
	budget := maxPromptChars - len(opener) - 1 // reserve opener and its newline

	lines := []string{tools}
	budget -= len(tools) + 1

	action := clip("Do: "+in.Action, budget)
	lines = append(lines, action)
	budget -= len(action) + 1

	if in.Context != "" && budget > 10 {
		line := "Ctx: " + in.Context
		if len(line)+1 > budget {
			line = clip(line, budget-1)
		}
		lines = append(lines, line)
		budget -= len(line) + 1
	}
	if in.PrevSummary != "" && budget > 10 {
		line := "Prev: " + in.PrevSummary
		if len(line)+1 > budget {
			line = clip(line, budget-1)
		}
		lines = append(lines, line)
	}

	lines = append(lines, opener)
	return strings.Join(lines, "\n")
}

// ParseToolCall recovers a tool call from raw model output. Formats are
// tried strictly in order:
//
//  1. <tool_call>{...}</tool_call> tags around JSON
//  2. a fenced code block holding JSON: the call object itself, a
//     {"tool_call": {...}} wrapper, or a {"response": "..."} wrapper whose
//     string carries a descriptive call
//  3. descriptive text: "Using <tool> tool with arguments: k=v, ..."
//
// A payload that parses but names no tool fails with missing_tool_name
// rather than falling through; the model clearly attempted the format.
func ParseToolCall(raw string) (*ParsedToolCall, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, newParseError(FailureEmptyResponse, raw, "model returned no text")
	}

	sawJSON := false

	if inner, ok := betweenTags(trimmed); ok {
		call, err := callFromJSON(inner)
		if err == nil {
			return call, nil
		}
		var tpe *ToolParseError
		if errors.As(err, &tpe) && tpe.Reason == FailureMissingName {
			return nil, newParseError(FailureMissingName, raw, tpe.Details)
		}
		sawJSON = true
	}

	if inner, ok := fencedJSON(trimmed); ok {
		call, err := callFromJSON(inner)
		if err == nil {
			return call, nil
		}
		var tpe *ToolParseError
		if errors.As(err, &tpe) && tpe.Reason == FailureMissingName {
			// {"response": "..."} wrappers name no tool directly but may
			// carry a descriptive call in the string.
			if resp := gjson.Get(inner, "response"); resp.Type == gjson.String {
				if call, derr := parseDescriptive(resp.String()); derr == nil {
					return call, nil
				}
			}
			return nil, newParseError(FailureMissingName, raw, tpe.Details)
		}
		sawJSON = true
	}

	if call, err := parseDescriptive(trimmed); err == nil {
		return call, nil
	}

	if sawJSON {
		return nil, newParseError(FailureJSONParse, raw, "found JSON-like payload but could not parse a tool call from it")
	}
	return nil, newParseError(FailureNoValidFormat, raw, "response matched no known tool-call format")
}

// betweenTags extracts the text inside <tool_call>...</tool_call>. A missing
// closing tag takes the rest of the string; models truncate mid-emission.
func betweenTags(s string) (string, bool) {
	const open, close = "<tool_call>", "</tool_call>"
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(open):]
	if end := strings.Index(rest, close); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// fencedJSON extracts the body of the first fenced code block, or the whole
// string when it is itself a bare JSON object.
func fencedJSON(s string) (string, bool) {
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		// skip a language word like "json" up to the first newline
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && nl <= 12 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			return rest, true
		}
		return "", false
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, true
	}
	return "", false
}

// callFromJSON extracts a tool call from a JSON payload. Accepts the call
// object directly, a {"tool_call": {...}} wrapper, or an OpenAI-style
// {"function": {...}} wrapper; argument maps may arrive double-encoded as a
// JSON string.
func callFromJSON(payload string) (*ParsedToolCall, error) {
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		return nil, newParseError(FailureJSONParse, payload, "invalid JSON")
	}
	doc := gjson.Parse(payload)
	if doc.IsArray() {
		arr := doc.Array()
		if len(arr) == 0 {
			return nil, newParseError(FailureJSONParse, payload, "empty JSON array")
		}
		doc = arr[0]
	}
	if !doc.IsObject() {
		return nil, newParseError(FailureJSONParse, payload, "payload is not a JSON object")
	}
	for _, wrapper := range []string{"tool_call", "function"} {
		if w := doc.Get(wrapper); w.IsObject() {
			doc = w
		}
	}

	name := firstString(doc, "name", "tool", "tool_name")
	if name == "" {
		return nil, newParseError(FailureMissingName, payload, "JSON payload names no tool")
	}

	args := map[string]any{}
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		v := doc.Get(key)
		if !v.Exists() {
			continue
		}
		switch {
		case v.IsObject():
			if err := json.Unmarshal([]byte(v.Raw), &args); err != nil {
				return nil, newParseError(FailureJSONParse, payload, "arguments object: "+err.Error())
			}
		case v.Type == gjson.String:
			inner := v.String()
			if parsed := gjson.Parse(inner); parsed.IsObject() {
				if err := json.Unmarshal([]byte(inner), &args); err != nil {
					return nil, newParseError(FailureJSONParse, payload, "double-encoded arguments: "+err.Error())
				}
			} else if inner != "" {
				args["value"] = inner
			}
		}
		break
	}
	return &ParsedToolCall{Name: name, Arguments: args}, nil
}

var descriptiveRe = regexp.MustCompile(`(?is)using\s+(?:the\s+)?([a-z0-9_\-]+)\s+tool\s+with\s+arguments:\s*(.+)$`)

// parseDescriptive handles the prose form tiny models fall back to:
//
//	Using write_file tool with arguments: path=hello.txt, content=Hello, world!
//
// Values may contain commas, so splitting anchors on the known argument
// names of the tool rather than on every comma.
func parseDescriptive(text string) (*ParsedToolCall, error) {
	m := descriptiveRe.FindStringSubmatch(text)
	if m == nil {
		return nil, newParseError(FailureNoValidFormat, text, "no descriptive tool call found")
	}
	name := strings.ToLower(m[1])
	args := splitDescriptiveArgs(name, strings.TrimSpace(m[2]))
	return &ParsedToolCall{Name: name, Arguments: args}, nil
}

// toolArgKeys lists the argument names of the built-in tools. The
// descriptive parser cuts values at these "key=" markers, letting file
// content and shell commands keep their commas.
var toolArgKeys = map[string][]string{
	"write_file":  {"path", "content"},
	"read_file":   {"path"},
	"run_command": {"command"},
	"edit_file":   {"path", "old_string", "new_string"},
}

func splitDescriptiveArgs(tool, s string) map[string]any {
	keys := toolArgKeys[tool]
	if len(keys) == 0 {
		return splitGenericArgs(s)
	}

	type marker struct {
		key    string
		start  int
		vstart int
	}
	var marks []marker
	for _, k := range keys {
		if idx := findKeyMarker(s, k); idx >= 0 {
			marks = append(marks, marker{key: k, start: idx, vstart: idx + len(k) + 1})
		}
	}
	if len(marks) == 0 {
		return splitGenericArgs(s)
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].start < marks[j].start })

	args := make(map[string]any, len(marks))
	for i, m := range marks {
		end := len(s)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		val := strings.TrimSpace(s[m.vstart:end])
		val = strings.TrimSpace(strings.TrimSuffix(val, ","))
		args[m.key] = val
	}
	return args
}

// findKeyMarker locates "key=" at a position where a key can start: the
// beginning of the string or right after a separator. This keeps "path="
// from matching inside "filepath=".
func findKeyMarker(s, key string) int {
	needle := key + "="
	from := 0
	for {
		idx := strings.Index(s[from:], needle)
		if idx < 0 {
			return -1
		}
		idx += from
		if idx == 0 || s[idx-1] == ' ' || s[idx-1] == ',' || s[idx-1] == '\n' || s[idx-1] == '\t' {
			return idx
		}
		from = idx + 1
	}
}

// splitGenericArgs is the best-effort splitter for tools without a known
// signature: comma-separated k=v pairs, with bare segments folded back into
// the preceding value.
func splitGenericArgs(s string) map[string]any {
	args := map[string]any{}
	lastKey := ""
	for _, part := range strings.Split(s, ",") {
		eq := strings.Index(part, "=")
		if eq > 0 && isIdentifier(strings.TrimSpace(part[:eq])) {
			key := strings.TrimSpace(part[:eq])
			args[key] = strings.TrimSpace(part[eq+1:])
			lastKey = key
			continue
		}
		if lastKey != "" {
			args[lastKey] = args[lastKey].(string) + "," + part
		}
	}
	return args
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
