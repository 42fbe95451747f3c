package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/hillclimb"
)

// fakeIterator scripts per-task outcomes: errs wins over fail, anything else
// passes in 3 turns.
type fakeIterator struct {
	fail  map[string]string // task ID -> check detail
	errs  map[string]error  // task ID -> harness error
	calls []string
}

func (f *fakeIterator) Iterate(_ context.Context, taskID string) (*hillclimb.IterationResult, error) {
	f.calls = append(f.calls, taskID)
	if err := f.errs[taskID]; err != nil {
		return nil, err
	}
	if detail, ok := f.fail[taskID]; ok {
		return &hillclimb.IterationResult{
			TaskID:    taskID,
			Turns:     20,
			RunResult: hillclimb.TaskRunResult{Turns: 20, ErrorMessage: detail},
		}, nil
	}
	return &hillclimb.IterationResult{
		TaskID:    taskID,
		Passed:    true,
		Turns:     3,
		RunResult: hillclimb.TaskRunResult{Passed: true, Turns: 3},
	}, nil
}

// TestRunSubsetBuildsEpisode climbs every TB_10 task once and folds the mixed
// outcomes into one graded episode.
func TestRunSubsetBuildsEpisode(t *testing.T) {
	ids, err := decompose.Subset(decompose.SubsetTB10)
	require.NoError(t, err)
	require.Len(t, ids, 10)

	fake := &fakeIterator{
		fail: map[string]string{
			ids[1]: "check failed: wrong content",
			ids[2]: "task timed out after 20 turns",
		},
		errs: map[string]error{ids[3]: errors.New("sandbox unavailable")},
	}
	cr := NewClimbRunner(fake, "test-model", zerolog.Nop())

	ep, err := cr.RunSubset(context.Background(), decompose.SubsetTB10, 4)
	require.NoError(t, err)

	assert.Regexp(t, `^ep-`, ep.ID)
	assert.Equal(t, decompose.SubsetTB10, ep.Subset)
	assert.Equal(t, 4, ep.Iteration)
	assert.Equal(t, "test-model", ep.Model)
	assert.Equal(t, decompose.SuiteVersion, ep.SuiteVersion)
	assert.False(t, ep.FinishedAt.Before(ep.StartedAt))

	assert.Equal(t, 10, ep.Summary.Total)
	assert.Equal(t, 7, ep.Summary.Passed)
	assert.Equal(t, 1, ep.Summary.Failed)
	assert.Equal(t, 1, ep.Summary.Timeout)
	assert.Equal(t, 1, ep.Summary.Error)
	assert.InDelta(t, 0.7, ep.Summary.PassRate, 1e-9)
	assert.Equal(t, EpisodePartial, ep.Status)

	assert.Equal(t, ids, fake.calls, "every task climbed once, in benchmark order")
	require.Len(t, ep.Results, 10)
	assert.Equal(t, "sandbox unavailable", ep.Results[3].Error)
	assert.Equal(t, "check failed: wrong content", ep.Results[1].Detail)
}

// TestRunSubsetAllErroredIsHarnessFailure reports an error instead of an
// episode when no task even ran, so the loop stops rather than burning
// iterations against a broken harness.
func TestRunSubsetAllErroredIsHarnessFailure(t *testing.T) {
	ids, err := decompose.Subset(decompose.SubsetTB10)
	require.NoError(t, err)

	errs := make(map[string]error, len(ids))
	for _, id := range ids {
		errs[id] = errors.New("docker daemon unreachable")
	}
	cr := NewClimbRunner(&fakeIterator{errs: errs}, "test-model", zerolog.Nop())

	_, err = cr.RunSubset(context.Background(), decompose.SubsetTB10, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 10 tasks errored")
	assert.Contains(t, err.Error(), "docker daemon unreachable")
}

// TestRunSubsetUnknownSubset rejects subsets outside the catalog.
func TestRunSubsetUnknownSubset(t *testing.T) {
	cr := NewClimbRunner(&fakeIterator{}, "test-model", zerolog.Nop())
	_, err := cr.RunSubset(context.Background(), "TB_7", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subset")
}

// TestRunSubsetHonorsCancel aborts between tasks without inventing results.
func TestRunSubsetHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeIterator{}
	cr := NewClimbRunner(fake, "test-model", zerolog.Nop())

	_, err := cr.RunSubset(ctx, decompose.SubsetTB10, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.calls)
}
