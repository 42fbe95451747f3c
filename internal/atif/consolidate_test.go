package atif

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamSession(t *testing.T, baseDir, sessionID string, steps []Step) *StreamWriter {
	t.Helper()
	w := NewStreamWriter(baseDir, Header{
		SessionID: sessionID,
		Agent:     Agent{Name: "openagents", Version: "v0.1.0"},
	}, zerolog.Nop(), nil)
	require.NoError(t, w.Initialize())
	for _, s := range steps {
		require.NoError(t, w.WriteStep(s))
	}
	return w
}

func twoSteps() []Step {
	user := NewUserStep("double every number")
	user.StepID = 1
	agent := NewAgentStep("done", "fm")
	agent.StepID = 2
	agent.Metrics = &Metrics{PromptTokens: 40, CompletionTokens: 10, CostUSD: 0.002}
	return []Step{user, agent}
}

// TestConsolidateStreamsFoldsFinishedSessions turns a closed stream into a
// full trajectory document, computing final metrics from the steps, while an
// in-progress stream stays untouched.
func TestConsolidateStreamsFoldsFinishedSessions(t *testing.T) {
	base := t.TempDir()

	done := streamSession(t, base, "session-2026-08-20T10-00-00-aaaaaa", twoSteps())
	require.NoError(t, done.Close(nil, StatusComplete))
	streamSession(t, base, "session-2026-08-20T11-00-00-bbbbbb", twoSteps())

	st := NewStore(base, true, zerolog.Nop())
	ids, err := st.ConsolidateStreams()
	require.NoError(t, err)
	assert.Equal(t, []string{"session-2026-08-20T10-00-00-aaaaaa"}, ids)

	tr, err := st.Load("session-2026-08-20T10-00-00-aaaaaa")
	require.NoError(t, err)
	assert.Len(t, tr.Steps, 2)
	require.NotNil(t, tr.FinalMetrics)
	assert.Equal(t, 2, tr.FinalMetrics.TotalSteps)
	assert.Equal(t, 40, tr.FinalMetrics.TotalPromptTokens)
	assert.InDelta(t, 0.002, tr.FinalMetrics.TotalCostUSD, 1e-9)

	_, err = st.Load("session-2026-08-20T11-00-00-bbbbbb")
	assert.Error(t, err)
}

// TestConsolidateStreamsPrefersIndexMetrics uses the metrics recorded at
// close time instead of recomputing.
func TestConsolidateStreamsPrefersIndexMetrics(t *testing.T) {
	base := t.TempDir()

	w := streamSession(t, base, "session-2026-08-20T12-00-00-cccccc", twoSteps())
	require.NoError(t, w.Close(&FinalMetrics{TotalSteps: 2, TotalCostUSD: 0.5}, StatusComplete))

	st := NewStore(base, true, zerolog.Nop())
	_, err := st.ConsolidateStreams()
	require.NoError(t, err)

	tr, err := st.Load("session-2026-08-20T12-00-00-cccccc")
	require.NoError(t, err)
	require.NotNil(t, tr.FinalMetrics)
	assert.InDelta(t, 0.5, tr.FinalMetrics.TotalCostUSD, 1e-9)
}

// TestConsolidateStreamsIsIdempotent reports nothing on a second pass.
func TestConsolidateStreamsIsIdempotent(t *testing.T) {
	base := t.TempDir()

	w := streamSession(t, base, "session-2026-08-20T13-00-00-dddddd", twoSteps())
	require.NoError(t, w.Close(nil, StatusFailed))

	st := NewStore(base, true, zerolog.Nop())
	ids, err := st.ConsolidateStreams()
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	ids, err = st.ConsolidateStreams()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestConsolidateStreamsSkipsCorruptStream leaves a malformed stream behind
// without failing the pass.
func TestConsolidateStreamsSkipsCorruptStream(t *testing.T) {
	base := t.TempDir()

	w := streamSession(t, base, "session-2026-08-20T14-00-00-eeeeee", twoSteps())
	require.NoError(t, w.Close(nil, StatusComplete))

	// Clobber the header line so the stream no longer parses.
	jsonl := w.Paths().JSONL
	require.NoError(t, os.WriteFile(jsonl, []byte("not json\n"), 0644))

	st := NewStore(base, true, zerolog.Nop())
	ids, err := st.ConsolidateStreams()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestConsolidateStreamsMissingBaseDir is a no-op before anything streamed.
func TestConsolidateStreamsMissingBaseDir(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "absent"), true, zerolog.Nop())
	ids, err := st.ConsolidateStreams()
	require.NoError(t, err)
	assert.Nil(t, ids)
}
