package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/telemetry"
	"github.com/openagents/gym/internal/workspace"
)

type subsetCall struct {
	subset    string
	iteration int
}

// fakeSubsets fabricates ten-task episodes with scripted pass rates, one per
// call; the last rate repeats. errAt makes call number errAt and later fail.
type fakeSubsets struct {
	mu    sync.Mutex
	rates []float64
	errAt int
	err   error
	calls []subsetCall
}

func (f *fakeSubsets) RunSubset(_ context.Context, subset string, iteration int) (*Episode, error) {
	f.mu.Lock()
	n := len(f.calls) + 1
	f.calls = append(f.calls, subsetCall{subset, iteration})
	rate := 0.0
	if len(f.rates) > 0 {
		idx := n - 1
		if idx >= len(f.rates) {
			idx = len(f.rates) - 1
		}
		rate = f.rates[idx]
	}
	errAt, err := f.errAt, f.err
	f.mu.Unlock()

	if errAt != 0 && n >= errAt {
		return nil, err
	}
	return episodeWithRate(subset, iteration, rate), nil
}

func (f *fakeSubsets) snapshot() []subsetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subsetCall(nil), f.calls...)
}

func episodeWithRate(subset string, iteration int, rate float64) *Episode {
	const total = 10
	passed := int(rate*total + 0.5)
	results := make([]TaskResult, total)
	for i := range results {
		results[i] = TaskResult{TaskID: fmt.Sprintf("task-%02d", i), Passed: i < passed, Turns: 3}
	}
	now := time.Now().UTC()
	ep := &Episode{
		ID:           NewEpisodeID(),
		Iteration:    iteration,
		Subset:       subset,
		Model:        "test-model",
		SuiteVersion: decompose.SuiteVersion,
		StartedAt:    now,
		FinishedAt:   now,
		Results:      results,
	}
	ep.Summary = summarize(results, 0)
	ep.Status = statusFor(ep.Summary)
	return ep
}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		StartSubset:                    decompose.SubsetTB10,
		ProgressionThreshold:           0.8,
		MinIterationsBeforeProgression: 3,
		MaxIterations:                  4,
	}
}

func testRunner(t *testing.T, subsets SubsetRunner, cfg config.LoopConfig, bus *telemetry.Bus) (*Runner, *workspace.Workspace) {
	t.Helper()
	ws := &workspace.Workspace{Root: t.TempDir()}
	r, err := NewRunner(ws, subsets, cfg, bus, nil, zerolog.Nop())
	require.NoError(t, err)
	return r, ws
}

func waitStatus(t *testing.T, r *Runner, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for r.State().Status != want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %s, at %s", want, r.State().Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitCalls(t *testing.T, f *fakeSubsets, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(f.snapshot()) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d subset calls", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func collectEvents(t *testing.T, ch <-chan telemetry.Event, n int) []telemetry.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var events []telemetry.Event
	for len(events) < n {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

// TestNewRunnerRejectsInvalidConfig classifies bad settings before any state
// is touched.
func TestNewRunnerRejectsInvalidConfig(t *testing.T) {
	cfg := testLoopConfig()
	cfg.StartSubset = "TB_7"

	_, err := NewRunner(&workspace.Workspace{Root: t.TempDir()}, &fakeSubsets{}, cfg, nil, nil, zerolog.Nop())
	require.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ReasonConfigInvalid, lerr.Reason)
}

// TestRunAdvancesOnRecentPassRate holds the subset until the most recent
// episode clears the threshold after the minimum iterations: an early spike
// followed by a regression does not advance, and advancing resets the
// per-subset iteration counter.
func TestRunAdvancesOnRecentPassRate(t *testing.T) {
	bus := telemetry.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	fake := &fakeSubsets{rates: []float64{0.5, 0.9, 0.7, 0.9}}
	r, _ := testRunner(t, fake, testLoopConfig(), bus)

	require.NoError(t, r.Run(context.Background()))

	calls := fake.snapshot()
	assert.Equal(t, []subsetCall{
		{"TB_10", 1}, {"TB_10", 2}, {"TB_10", 3}, {"TB_10", 4},
	}, calls, "iteration 2 spikes above threshold too early, iteration 3 regresses")

	st := r.State()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "TB_30", st.CurrentSubset)
	assert.Equal(t, 0, st.Iteration, "advance resets the subset counter")
	assert.Equal(t, 4, st.TotalIterations)
	assert.Equal(t, 4, st.SubsetIterations["TB_10"])
	assert.InDelta(t, 0.9, st.SubsetSuccessRates["TB_10"], 1e-9)
	assert.InDelta(t, 0.9, st.BestSuccessRates["TB_10"], 1e-9)

	events := collectEvents(t, ch, 11)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{
		telemetry.EventLoopRunStart,
		telemetry.EventLoopIterationStart,
		telemetry.EventLoopIterationComplete,
		telemetry.EventLoopIterationStart,
		telemetry.EventLoopIterationComplete,
		telemetry.EventLoopIterationStart,
		telemetry.EventLoopIterationComplete,
		telemetry.EventLoopIterationStart,
		telemetry.EventLoopIterationComplete,
		telemetry.EventLoopSubsetAdvance,
		telemetry.EventLoopRunComplete,
	}, types)

	advance := events[9].Payload
	assert.Equal(t, "TB_10", advance["from"])
	assert.Equal(t, "TB_30", advance["to"])
	assert.Equal(t, 4, advance["iterations"])
	assert.InDelta(t, 0.9, advance["pass_rate"].(float64), 1e-9)
}

// TestRunIterationLimitCompletesCleanly ends the run without error when the
// iteration budget is spent, with every episode recorded under gym/<run_id>/.
func TestRunIterationLimitCompletesCleanly(t *testing.T) {
	cfg := testLoopConfig()
	cfg.MaxIterations = 2

	fake := &fakeSubsets{rates: []float64{0.4}}
	r, ws := testRunner(t, fake, cfg, nil)

	require.NoError(t, r.Run(context.Background()))

	st := r.State()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 2, st.TotalIterations)
	assert.Regexp(t, `^run-`, st.RunID)
	require.NotEmpty(t, st.LastEpisodeID)

	files, err := filepath.Glob(filepath.Join(ws.GymRunDir(st.RunID), "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 2, "one episode document per iteration")

	epPath := filepath.Join(ws.GymRunDir(st.RunID), st.LastEpisodeID+".json")
	data, err := os.ReadFile(epPath)
	require.NoError(t, err)
	var ep Episode
	require.NoError(t, json.Unmarshal(data, &ep))
	assert.Equal(t, st.RunID, ep.RunID)
	assert.Equal(t, "TB_10", ep.Subset)
	assert.Equal(t, 10, ep.Summary.Total)
	assert.Equal(t, epPath, ep.ResultsPath)

	onDisk, err := loadState(ws.TrainingStatePath())
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, StatusCompleted, onDisk.Status)
}

// TestRunIterationErrorFailsRun stops on a subset error, persists the failed
// state, and classifies the returned error.
func TestRunIterationErrorFailsRun(t *testing.T) {
	fake := &fakeSubsets{errAt: 1, err: errors.New("model quota exhausted")}
	r, ws := testRunner(t, fake, testLoopConfig(), nil)

	err := r.Run(context.Background())
	require.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ReasonIteration, lerr.Reason)
	assert.Contains(t, err.Error(), "model quota exhausted")

	assert.Equal(t, StatusFailed, r.State().Status)
	onDisk, err := loadState(ws.TrainingStatePath())
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, StatusFailed, onDisk.Status)
	assert.Contains(t, onDisk.Error, "model quota exhausted")
}

// TestRunAutoResumeRestoresRunningState continues an interrupted run from its
// checkpoint: same run ID, same subset, cumulative counters.
func TestRunAutoResumeRestoresRunningState(t *testing.T) {
	cfg := testLoopConfig()
	cfg.AutoResume = true
	cfg.MaxIterations = 6

	bus := telemetry.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	fake := &fakeSubsets{rates: []float64{0.0}}
	r, ws := testRunner(t, fake, cfg, bus)
	require.NoError(t, saveState(ws.TrainingStatePath(), &State{
		RunID:            "run-resume",
		Status:           StatusRunning,
		CurrentSubset:    "TB_30",
		Iteration:        2,
		TotalIterations:  5,
		SubsetIterations: map[string]int{"TB_10": 3, "TB_30": 2},
		StartedAt:        time.Now().UTC().Add(-time.Hour),
		TotalDurationMS:  9999,
	}))

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []subsetCall{{"TB_30", 3}}, fake.snapshot())
	st := r.State()
	assert.Equal(t, "run-resume", st.RunID)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 6, st.TotalIterations)
	assert.Equal(t, 3, st.SubsetIterations["TB_30"])
	assert.GreaterOrEqual(t, st.TotalDurationMS, int64(9999), "duration budget is cumulative across resumes")

	start := collectEvents(t, ch, 1)[0]
	assert.Equal(t, telemetry.EventLoopRunStart, start.Type)
	assert.Equal(t, true, start.Payload["resumed"])
}

// TestRunAutoResumeIgnoresCompleted starts a fresh run over a finished
// checkpoint instead of resurrecting it.
func TestRunAutoResumeIgnoresCompleted(t *testing.T) {
	cfg := testLoopConfig()
	cfg.AutoResume = true
	cfg.MaxIterations = 1

	fake := &fakeSubsets{rates: []float64{0.2}}
	r, ws := testRunner(t, fake, cfg, nil)
	require.NoError(t, saveState(ws.TrainingStatePath(), &State{
		RunID:         "run-old",
		Status:        StatusCompleted,
		CurrentSubset: "TB_89",
		StartedAt:     time.Now().UTC().Add(-time.Hour),
	}))

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []subsetCall{{"TB_10", 1}}, fake.snapshot(), "fresh run starts on the configured subset")
	st := r.State()
	assert.NotEqual(t, "run-old", st.RunID)
	assert.Regexp(t, `^run-`, st.RunID)
}

// TestPauseParksBeforeIterating holds the loop at the iteration boundary
// until Resume, persisting the paused status.
func TestPauseParksBeforeIterating(t *testing.T) {
	cfg := testLoopConfig()
	cfg.MaxIterations = 2

	fake := &fakeSubsets{rates: []float64{0.1}}
	r, ws := testRunner(t, fake, cfg, nil)

	r.Pause()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()

	waitStatus(t, r, StatusPaused)
	assert.Empty(t, fake.snapshot(), "no iteration runs while paused")
	onDisk, err := loadState(ws.TrainingStatePath())
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, StatusPaused, onDisk.Status)

	r.Resume()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not finish after resume")
	}
	assert.Equal(t, StatusCompleted, r.State().Status)
	assert.Len(t, fake.snapshot(), 2)
}

// TestRunCancelLeavesResumableState returns the context error and leaves the
// checkpoint marked running so auto-resume picks it up.
func TestRunCancelLeavesResumableState(t *testing.T) {
	cfg := testLoopConfig()
	cfg.MaxIterations = 0
	cfg.IterationDelay = 5 * time.Millisecond

	fake := &fakeSubsets{rates: []float64{0.1}}
	r, ws := testRunner(t, fake, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitCalls(t, fake, 1)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}

	onDisk, err := loadState(ws.TrainingStatePath())
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, StatusRunning, onDisk.Status)
	assert.GreaterOrEqual(t, onDisk.TotalIterations, 1)
}

// TestRunEmitsLifecyclePayloads checks the event payloads a HUD consumer
// keys on for a single-iteration run on the final subset.
func TestRunEmitsLifecyclePayloads(t *testing.T) {
	cfg := config.LoopConfig{
		StartSubset:                    decompose.SubsetTB89,
		ProgressionThreshold:           0.8,
		MinIterationsBeforeProgression: 1,
		MaxIterations:                  1,
	}

	bus := telemetry.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	fake := &fakeSubsets{rates: []float64{1.0}}
	r, _ := testRunner(t, fake, cfg, bus)
	require.NoError(t, r.Run(context.Background()))

	events := collectEvents(t, ch, 4)
	assert.Equal(t, telemetry.EventLoopRunStart, events[0].Type)
	assert.Regexp(t, `^run-`, events[0].Payload["run_id"])
	assert.Equal(t, "TB_89", events[0].Payload["subset"])
	assert.Equal(t, false, events[0].Payload["resumed"])

	assert.Equal(t, telemetry.EventLoopIterationStart, events[1].Type)
	assert.Equal(t, 1, events[1].Payload["iteration"])

	assert.Equal(t, telemetry.EventLoopIterationComplete, events[2].Type)
	assert.Regexp(t, `^ep-`, events[2].Payload["episode_id"])
	assert.Equal(t, EpisodeSuccess, events[2].Payload["status"])
	assert.InDelta(t, 1.0, events[2].Payload["pass_rate"].(float64), 1e-9)

	assert.Equal(t, telemetry.EventLoopRunComplete, events[3].Type)
	assert.Equal(t, string(StatusCompleted), events[3].Payload["status"])
	assert.Equal(t, string(ReasonIterationLimit), events[3].Payload["reason"])
	assert.Equal(t, 1, events[3].Payload["total_iterations"])
}
