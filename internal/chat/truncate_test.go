package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTruncateDeterministic verifies two calls on the same input are
// byte-equal.
func TestTruncateDeterministic(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: strings.Repeat("s", 300)},
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "assistant", Content: strings.Repeat("b", 400)},
		{Role: "user", Content: strings.Repeat("c", 400)},
		{Role: "assistant", Content: strings.Repeat("d", 200)},
	}

	first, err := json.Marshal(TruncateForFM(msgs, 1100))
	require.NoError(t, err)
	second, err := json.Marshal(TruncateForFM(msgs, 1100))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestTruncateKeepsSystemAndTail verifies the system message survives and
// the newest exchange is preferred over older ones.
func TestTruncateKeepsSystemAndTail(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: strings.Repeat("old", 200)}, // 600 chars
		{Role: "assistant", Content: strings.Repeat("x", 300)},
		{Role: "user", Content: "latest question"},
		{Role: "assistant", Content: "latest answer"},
	}

	out := TruncateForFM(msgs, 200)
	require.NotEmpty(t, out)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "rules", out[0].Content)

	var contents []string
	for _, m := range out[1:] {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "latest question")
	assert.Contains(t, contents, "latest answer")
	assert.NotContains(t, strings.Join(contents, " "), "old")
}

// TestTruncateOversizedSystemAlone verifies a system message over budget is
// cut with an ellipsis and returned alone.
func TestTruncateOversizedSystemAlone(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: strings.Repeat("s", 2000)},
		{Role: "user", Content: "hi"},
	}
	out := TruncateForFM(msgs, 100)
	require.Len(t, out, 1)
	assert.Equal(t, "system", out[0].Role)
	assert.Len(t, out[0].Content, 100)
	assert.True(t, strings.HasSuffix(out[0].Content, "..."))
}

// TestTruncateKeepsExchangesWhole verifies a user message is never separated
// from its answer: either the whole exchange fits or neither message does.
func TestTruncateKeepsExchangesWhole(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: strings.Repeat("q", 80)},
		{Role: "assistant", Content: strings.Repeat("a", 80)},
		{Role: "user", Content: strings.Repeat("Q", 40)},
		{Role: "assistant", Content: strings.Repeat("A", 40)},
	}

	// Budget fits the last exchange (80) but not both (240).
	out := TruncateForFM(msgs, 100)
	require.Len(t, out, 2)
	assert.Equal(t, strings.Repeat("Q", 40), out[0].Content)
	assert.Equal(t, strings.Repeat("A", 40), out[1].Content)
}

// TestEstimateTokensMonotonic verifies longer text never costs fewer tokens
// and empty text costs zero.
func TestEstimateTokensMonotonic(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("gpt-4o-mini", ""))

	short := EstimateTokens("gpt-4o-mini", "hello world")
	long := EstimateTokens("gpt-4o-mini", strings.Repeat("hello world ", 50))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}
