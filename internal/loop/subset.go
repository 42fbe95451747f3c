package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/hillclimb"
)

// TaskIterator runs one climb iteration for a task. *hillclimb.Climber
// satisfies it.
type TaskIterator interface {
	Iterate(ctx context.Context, taskID string) (*hillclimb.IterationResult, error)
}

var _ TaskIterator = (*hillclimb.Climber)(nil)

// ClimbRunner is the production SubsetRunner: one climb iteration per task in
// the subset, folded into an episode.
type ClimbRunner struct {
	climber TaskIterator
	model   string
	logger  zerolog.Logger
}

// NewClimbRunner wires the hill climber as the loop's subset runner.
func NewClimbRunner(climber TaskIterator, model string, logger zerolog.Logger) *ClimbRunner {
	return &ClimbRunner{
		climber: climber,
		model:   model,
		logger:  logger.With().Str("component", "loop.subset").Logger(),
	}
}

// RunSubset climbs every task in the subset once. Individual task errors are
// recorded in the episode and do not abort the pass; an episode where every
// task errored is reported as an error because it means the harness itself is
// broken, not the agent.
func (c *ClimbRunner) RunSubset(ctx context.Context, subset string, iteration int) (*Episode, error) {
	tasks, err := decompose.Subset(subset)
	if err != nil {
		return nil, err
	}

	ep := &Episode{
		ID:           NewEpisodeID(),
		Iteration:    iteration,
		Subset:       subset,
		Model:        c.model,
		SuiteVersion: decompose.SuiteVersion,
		StartedAt:    time.Now().UTC(),
	}

	for _, taskID := range tasks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		taskStart := time.Now()
		res, err := c.climber.Iterate(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("task_id", taskID).Msg("task iteration errored")
			ep.Results = append(ep.Results, TaskResult{
				TaskID:     taskID,
				DurationMS: time.Since(taskStart).Milliseconds(),
				Error:      err.Error(),
			})
			continue
		}
		ep.Results = append(ep.Results, TaskResult{
			TaskID:     taskID,
			Passed:     res.Passed,
			Turns:      res.Turns,
			DurationMS: time.Since(taskStart).Milliseconds(),
			Detail:     res.RunResult.ErrorMessage,
		})
	}

	ep.FinishedAt = time.Now().UTC()
	ep.Summary = summarize(ep.Results, ep.FinishedAt.Sub(ep.StartedAt))
	ep.Status = statusFor(ep.Summary)

	if ep.Summary.Total > 0 && ep.Summary.Error == ep.Summary.Total {
		return nil, fmt.Errorf("subset %s: all %d tasks errored, last: %s",
			subset, ep.Summary.Total, ep.Results[len(ep.Results)-1].Error)
	}
	return ep, nil
}
