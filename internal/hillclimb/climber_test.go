package hillclimb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/chat"
	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/store"
)

type fakeChat struct {
	mu     sync.Mutex
	models []string
	reply  string
	err    error
}

func (f *fakeChat) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	f.mu.Lock()
	f.models = append(f.models, req.Model)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{Choices: []chat.Choice{{
		Message: chat.ResponseMessage{Role: "assistant", Content: f.reply},
	}}}, nil
}

type fakeRunner struct {
	results []*TaskRunResult
	calls   int
	lastCfg ConfigInput
}

func (f *fakeRunner) RunTask(ctx context.Context, taskID string, cfg ConfigInput) (*TaskRunResult, error) {
	f.lastCfg = cfg
	res := f.results[f.calls%len(f.results)]
	f.calls++
	return res, nil
}

func newTestClimber(t *testing.T, runner TaskRunner, chatClient chat.Client) (*Climber, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gym.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.HillClimbConfig{FreeModel: "free-model", AutoModel: "auto-model", AutoEvery: 3}
	return NewClimber(st, runner, chatClient, cfg, nil, zerolog.Nop()), st
}

// TestIterateSeedsRecordsAndApplies verifies the full iteration flow: seed
// config, run, record, meta proposal applied and persisted with a new hash.
func TestIterateSeedsRecordsAndApplies(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: false, Turns: 12, ErrorMessage: "no matches"}}}
	meta := &fakeChat{reply: "Anchor the regex with re.MULTILINE."}
	c, st := newTestClimber(t, runner, meta)
	ctx := context.Background()

	res, err := c.Iterate(ctx, "regex-log")
	require.NoError(t, err)

	// the run used the seed hint
	assert.Equal(t, SeedHint("regex-log"), runner.lastCfg.Hint)
	assert.Equal(t, 1, res.RunNumber)
	assert.False(t, res.Passed)

	// the proposal was applied
	require.Equal(t, ChangeUpdateHint, res.Change.Type)
	assert.Equal(t, "Anchor the regex with re.MULTILINE.", res.Config.Hint)

	// and persisted
	saved, err := st.GetTaskConfig(ctx, "regex-log")
	require.NoError(t, err)
	assert.Equal(t, "Anchor the regex with re.MULTILINE.", saved.Hint)
	assert.Equal(t, res.Hash, saved.ConfigHash)

	hist, err := st.History(ctx, "regex-log")
	require.NoError(t, err)
	assert.Equal(t, 1, hist.TotalRuns)
}

// TestIterateMetaFailureFallsBackToHeuristic verifies the heuristic handles
// proposals when the meta model is unreachable.
func TestIterateMetaFailureFallsBackToHeuristic(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: true, Turns: 25}}}
	meta := &fakeChat{err: errors.New("connection refused")}
	c, st := newTestClimber(t, runner, meta)
	ctx := context.Background()

	// persist a non-empty hint first so the heuristic takes the slow-pass branch
	require.NoError(t, st.SaveTaskConfig(ctx, &store.TaskConfig{
		TaskID: "t", Hint: "Do it.", ConfigHash: "x",
	}))

	res, err := c.Iterate(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, ChangeUpdateHint, res.Change.Type)
	assert.Equal(t, "Do it. Be direct and efficient.", res.Config.Hint)
}

// TestIterateKeepLeavesHashStable verifies a KEEP reply persists the same
// tuple and hash.
func TestIterateKeepLeavesHashStable(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: true, Turns: 5}}}
	meta := &fakeChat{reply: "KEEP"}
	c, st := newTestClimber(t, runner, meta)
	ctx := context.Background()

	require.NoError(t, st.SaveTaskConfig(ctx, &store.TaskConfig{
		TaskID: "t", Hint: "good hint", ConfigHash: ConfigInput{TaskID: "t", Hint: "good hint"}.Hash(),
	}))

	res, err := c.Iterate(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, ChangeKeep, res.Change.Type)
	assert.Equal(t, "good hint", res.Config.Hint)
	assert.Equal(t, ConfigInput{TaskID: "t", Hint: "good hint"}.Hash(), res.Hash)
}

// TestIterateDemotesRetriedHint verifies a proposal matching an
// already-tried hint is demoted to keep.
func TestIterateDemotesRetriedHint(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: false, Turns: 9}}}
	meta := &fakeChat{reply: "already tried this"}
	c, st := newTestClimber(t, runner, meta)
	ctx := context.Background()

	require.NoError(t, st.RecordRun(ctx, &store.Run{
		TaskID: "t", Passed: false, Turns: 4, ConfigHash: "h", Hint: "already tried this",
	}))
	require.NoError(t, st.SaveTaskConfig(ctx, &store.TaskConfig{TaskID: "t", Hint: "current", ConfigHash: "h"}))

	res, err := c.Iterate(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, ChangeKeep, res.Change.Type)
	assert.Equal(t, "current", res.Config.Hint)
}

// TestClimbRoutesEveryNthRunToAutoModel verifies the free model handles most
// proposals and the auto model every Nth run.
func TestClimbRoutesEveryNthRunToAutoModel(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: true, Turns: 3}}}
	meta := &fakeChat{reply: "KEEP"}
	c, _ := newTestClimber(t, runner, meta)

	_, err := c.Climb(context.Background(), "t", 3)
	require.NoError(t, err)

	require.Len(t, meta.models, 3)
	assert.Equal(t, []string{"free-model", "free-model", "auto-model"}, meta.models)
}

// TestIteratePassUpdatesBest verifies passing runs refresh the best-hint row.
func TestIteratePassUpdatesBest(t *testing.T) {
	runner := &fakeRunner{results: []*TaskRunResult{{Passed: true, Turns: 4}}}
	meta := &fakeChat{reply: "KEEP"}
	c, st := newTestClimber(t, runner, meta)
	ctx := context.Background()

	require.NoError(t, st.SaveTaskConfig(ctx, &store.TaskConfig{TaskID: "t", Hint: "winning hint", ConfigHash: "x"}))

	_, err := c.Iterate(ctx, "t")
	require.NoError(t, err)

	best, err := st.Best(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "winning hint", best.Hint)
	assert.Equal(t, 1.0, best.Score)
}
