package archivist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/chat"
)

type fakeChat struct {
	reply string
	err   error
	calls int
}

func (f *fakeChat) Chat(_ context.Context, _ chat.Request) (*chat.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{
		Choices: []chat.Choice{{Message: chat.ResponseMessage{Role: "assistant", Content: f.reply}}},
	}, nil
}

// TestParsePatternsFencedReply parses a typical reply: prose around a fenced
// JSON array.
func TestParsePatternsFencedReply(t *testing.T) {
	raw := "Found two patterns:\n```json\n" +
		`[{"name": "read before edit", "type": "skill", "description": "reads target first", ` +
		`"content": "Read a file before editing it.", "confidence": 0.8, "occurrences": 3},` +
		`{"name": "quick scan", "type": "strategy", "content": "Grep before opening files."}]` +
		"\n```"

	patterns, err := parsePatterns(raw)
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	assert.Equal(t, "read before edit", patterns[0].Name)
	assert.Equal(t, TypeSkill, patterns[0].Type)
	assert.InDelta(t, 0.8, patterns[0].Confidence, 1e-9)
	assert.Equal(t, 3, patterns[0].Occurrences)
	assert.Len(t, patterns[0].Signature, 16)

	assert.Equal(t, TypeSkill, patterns[1].Type, "strategy normalizes to skill")
	assert.InDelta(t, defaultPatternConfidence, patterns[1].Confidence, 1e-9)
	assert.Equal(t, 1, patterns[1].Occurrences, "missing occurrences floors at 1")
}

// TestParsePatternsClampsConfidence resets out-of-range confidence to the
// default, which sits below the promotion floor.
func TestParsePatternsClampsConfidence(t *testing.T) {
	raw := `[{"name": "x", "type": "skill", "content": "y", "confidence": 7.5}]`

	patterns, err := parsePatterns(raw)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.InDelta(t, defaultPatternConfidence, patterns[0].Confidence, 1e-9)
}

// TestParsePatternsDropsEmptyEntries drops entries whose name or content is
// blank without failing the batch.
func TestParsePatternsDropsEmptyEntries(t *testing.T) {
	raw := `[{"name": "", "type": "skill", "content": "orphan"},` +
		`{"name": "keeper", "type": "skill", "content": "stays"}]`

	patterns, err := parsePatterns(raw)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "keeper", patterns[0].Name)
}

// TestParsePatternsRejectsMissingFields fails schema validation when an item
// lacks a required key entirely.
func TestParsePatternsRejectsMissingFields(t *testing.T) {
	_, err := parsePatterns(`[{"type": "skill", "content": "no name key"}]`)
	require.Error(t, err)
}

// TestParsePatternsRejectsProse fails when the reply holds no JSON array.
func TestParsePatternsRejectsProse(t *testing.T) {
	_, err := parsePatterns("I could not find any reusable patterns in this session.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON array")
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, TypeSkill, normalizeType("Strategy"))
	assert.Equal(t, TypeSkill, normalizeType("technique"))
	assert.Equal(t, TypeOptimization, normalizeType("efficiency"))
	assert.Equal(t, TypeFailure, normalizeType("anti-pattern"))
	assert.Equal(t, TypeInsight, normalizeType("observation"))
	assert.Equal(t, TypeInsight, normalizeType(""))
}

// TestChatExtractorMergesModelAndHeuristic returns mined patterns alongside
// whatever the model proposes.
func TestChatExtractorMergesModelAndHeuristic(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "bash"},
		[]string{"python: command not found", "ok"},
	)
	model := &fakeChat{reply: `[{"name": "use python3", "type": "skill", ` +
		`"content": "Invoke python3 explicitly.", "confidence": 0.9, "occurrences": 2}]`}

	ex := NewChatExtractor(model, "test-model", zerolog.Nop())
	patterns, err := ex.Extract(context.Background(), traj)
	require.NoError(t, err)
	require.Equal(t, 1, model.calls)

	var names []string
	for _, p := range patterns {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, `recovery: bash after "command not found"`)
	assert.Contains(t, names, "use python3")
}

// TestChatExtractorDegradesOnChatError keeps the heuristic harvest when the
// provider is unreachable.
func TestChatExtractorDegradesOnChatError(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "bash"},
		[]string{"permission denied", "ok"},
	)
	ex := NewChatExtractor(&fakeChat{err: errors.New("connection refused")}, "test-model", zerolog.Nop())

	patterns, err := ex.Extract(context.Background(), traj)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, `recovery: bash after "permission denied"`, patterns[0].Name)
}

// TestChatExtractorDegradesOnGarbageReply keeps the heuristic harvest when
// the reply parses to nothing usable.
func TestChatExtractorDegradesOnGarbageReply(t *testing.T) {
	traj := fixtureTrajectory(
		[]string{"bash", "bash"},
		[]string{"timed out", "ok"},
	)
	ex := NewChatExtractor(&fakeChat{reply: "no structured output today"}, "test-model", zerolog.Nop())

	patterns, err := ex.Extract(context.Background(), traj)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, `recovery: bash after "timed out"`, patterns[0].Name)
}

// TestExtractPromptElidesLongTranscript renders head and tail around an
// omission marker once the step count passes the cap.
func TestExtractPromptElidesLongTranscript(t *testing.T) {
	traj := atif.NewTrajectory("session-2026-02-10T10-00-00-abc123", atif.Agent{Name: "openagents", Version: "0.4.0"})
	traj.AddStep(atif.NewUserStep("first message"))
	for i := 0; i < 38; i++ {
		traj.AddStep(atif.NewAgentStep(fmt.Sprintf("thinking %d", i), "m"))
	}
	traj.AddStep(atif.NewAgentStep("last message", "m"))

	prompt := extractPrompt(traj)
	assert.Contains(t, prompt, "first message")
	assert.Contains(t, prompt, "last message")
	assert.Contains(t, prompt, "10 steps omitted")
	assert.NotContains(t, prompt, "thinking 20", "middle steps drop out")

	assert.Less(t, strings.Count(prompt, "agent:"), 40)
}
