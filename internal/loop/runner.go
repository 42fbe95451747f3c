// Package loop drives progressive training across the benchmark subsets:
// iterate on TB_10 until the recent pass rate clears the progression
// threshold, then advance through TB_30 to TB_89.
//
// DESIGN: One Runner owns one state file; iterations are strictly sequential
// and the full state is persisted atomically after each one, so a killed
// process resumes exactly one iteration boundary back. Pause is cooperative
// and takes effect at the top of the next iteration. Hitting the time or
// iteration budget completes the run cleanly; only an iteration error fails
// it.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/telemetry"
	"github.com/openagents/gym/internal/workspace"
)

// SubsetRunner runs every task in a benchmark subset once and reports the
// episode. iteration is the 1-based count on the current subset.
type SubsetRunner interface {
	RunSubset(ctx context.Context, subset string, iteration int) (*Episode, error)
}

// Runner is the training loop. Run drives iterations until a budget is hit,
// an iteration fails, or the context is canceled; Pause and Resume may be
// called from other goroutines.
type Runner struct {
	ws      *workspace.Workspace
	subsets SubsetRunner
	cfg     config.LoopConfig
	bus     *telemetry.Bus
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	state    *State
	pauseReq bool
	resumeCh chan struct{}
}

// NewRunner validates the config and wires a loop runner. bus and metrics may
// be nil.
func NewRunner(ws *workspace.Workspace, subsets SubsetRunner, cfg config.LoopConfig,
	bus *telemetry.Bus, metrics *telemetry.Metrics, logger zerolog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Reason: ReasonConfigInvalid, Err: err}
	}
	return &Runner{
		ws:      ws,
		subsets: subsets,
		cfg:     cfg,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "loop").Logger(),
	}, nil
}

// Run executes the loop until a budget completes it, an iteration fails it,
// or ctx cancels it. Cancellation returns ctx.Err() and leaves the state file
// marked running, so the next Run with auto-resume picks up where it stopped.
func (r *Runner) Run(ctx context.Context) error {
	st, resumed, err := r.initState()
	if err != nil {
		return err
	}
	st.Status = StatusRunning
	st.Error = ""
	if err := r.persist(st); err != nil {
		return err
	}

	r.publish(telemetry.EventLoopRunStart, map[string]any{
		"run_id":  st.RunID,
		"subset":  st.CurrentSubset,
		"resumed": resumed,
	})
	r.logger.Info().
		Str("run_id", st.RunID).
		Str("subset", st.CurrentSubset).
		Bool("resumed", resumed).
		Msg("training loop started")

	ranOnce := false
	for {
		if ctx.Err() != nil {
			// State on disk still says running; auto-resume continues it.
			return ctx.Err()
		}
		if r.pauseRequested() {
			if err := r.waitResume(ctx, st); err != nil {
				return err
			}
			continue
		}
		if reason, done := r.budgetExceeded(st); done {
			return r.complete(st, reason)
		}
		if ranOnce && r.cfg.IterationDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.IterationDelay):
			}
		}
		ranOnce = true

		if err := r.iterate(ctx, st); err != nil {
			return err
		}
	}
}

// Pause asks the loop to park at the top of the next iteration.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.pauseReq = true
	r.mu.Unlock()
}

// Resume releases a paused loop. Calling it before the loop actually parks
// just clears the request.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseReq = false
	if r.resumeCh != nil {
		close(r.resumeCh)
		r.resumeCh = nil
	}
}

// State returns a copy of the latest checkpoint.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return State{Status: StatusIdle}
	}
	return *copyState(r.state)
}

// initState restores a running checkpoint when auto-resume allows it,
// otherwise starts fresh. Completed, failed, and paused checkpoints are not
// resumed; a new run begins over them.
func (r *Runner) initState() (*State, bool, error) {
	if r.cfg.AutoResume {
		st, err := loadState(r.statePath())
		if err != nil {
			return nil, false, err
		}
		if st != nil && st.Status == StatusRunning {
			if _, err := decompose.Subset(st.CurrentSubset); err != nil {
				return nil, false, &Error{Reason: ReasonStateLoad, Err: err}
			}
			return st, true, nil
		}
	}
	now := time.Now().UTC()
	return &State{
		RunID:              "run-" + uuid.NewString(),
		Status:             StatusIdle,
		CurrentSubset:      r.cfg.StartSubset,
		SubsetIterations:   make(map[string]int),
		SubsetSuccessRates: make(map[string]float64),
		BestSuccessRates:   make(map[string]float64),
		StartedAt:          now,
		LastUpdatedAt:      now,
	}, false, nil
}

// iterate runs one subset pass and folds the episode into the state. The
// checkpoint lands after progression is applied, so a restart resumes on the
// advanced subset.
func (r *Runner) iterate(ctx context.Context, st *State) error {
	st.Iteration++
	st.TotalIterations++
	st.SubsetIterations[st.CurrentSubset]++
	iterStart := time.Now()

	r.publish(telemetry.EventLoopIterationStart, map[string]any{
		"run_id":           st.RunID,
		"subset":           st.CurrentSubset,
		"iteration":        st.Iteration,
		"total_iterations": st.TotalIterations,
	})

	ep, err := r.subsets.RunSubset(ctx, st.CurrentSubset, st.Iteration)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(st, err)
	}
	ep.RunID = st.RunID
	if ep.Iteration == 0 {
		ep.Iteration = st.Iteration
	}
	if err := r.writeEpisode(ep); err != nil {
		return r.fail(st, fmt.Errorf("recording episode %s: %w", ep.ID, err))
	}

	elapsed := time.Since(iterStart)
	st.TotalDurationMS += elapsed.Milliseconds()
	st.LastEpisodeID = ep.ID
	rate := ep.Summary.PassRate
	st.SubsetSuccessRates[st.CurrentSubset] = rate
	if rate > st.BestSuccessRates[st.CurrentSubset] {
		st.BestSuccessRates[st.CurrentSubset] = rate
	}

	r.metrics.IncLoopIteration(st.CurrentSubset)
	r.publish(telemetry.EventLoopIterationComplete, map[string]any{
		"run_id":      st.RunID,
		"subset":      st.CurrentSubset,
		"iteration":   st.Iteration,
		"episode_id":  ep.ID,
		"status":      ep.Status,
		"pass_rate":   rate,
		"duration_ms": elapsed.Milliseconds(),
	})
	r.logger.Info().
		Str("subset", st.CurrentSubset).
		Int("iteration", st.Iteration).
		Str("episode_id", ep.ID).
		Float64("pass_rate", rate).
		Int("passed", ep.Summary.Passed).
		Int("total", ep.Summary.Total).
		Msg("iteration complete")

	if next, ok := r.shouldProgress(st, rate); ok {
		r.publish(telemetry.EventLoopSubsetAdvance, map[string]any{
			"run_id":     st.RunID,
			"from":       st.CurrentSubset,
			"to":         next,
			"iterations": st.Iteration,
			"pass_rate":  rate,
		})
		r.logger.Info().
			Str("from", st.CurrentSubset).
			Str("to", next).
			Float64("pass_rate", rate).
			Msg("advancing benchmark subset")
		st.CurrentSubset = next
		st.Iteration = 0
	}

	return r.persist(st)
}

// shouldProgress applies the advancement rule: enough iterations on the
// current subset, the most recent pass rate at or above the threshold, and a
// next subset to advance to.
func (r *Runner) shouldProgress(st *State, rate float64) (string, bool) {
	if st.Iteration < r.cfg.MinIterationsBeforeProgression || rate < r.cfg.ProgressionThreshold {
		return "", false
	}
	return decompose.NextSubset(st.CurrentSubset)
}

// budgetExceeded checks the cumulative limits before a new iteration starts;
// an in-flight iteration always finishes.
func (r *Runner) budgetExceeded(st *State) (Reason, bool) {
	if r.cfg.MaxIterations > 0 && st.TotalIterations >= r.cfg.MaxIterations {
		return ReasonIterationLimit, true
	}
	if r.cfg.MaxDuration > 0 && time.Duration(st.TotalDurationMS)*time.Millisecond >= r.cfg.MaxDuration {
		return ReasonTimeLimit, true
	}
	return "", false
}

// complete marks a clean finish with the limit that ended it.
func (r *Runner) complete(st *State, reason Reason) error {
	st.Status = StatusCompleted
	if err := r.persist(st); err != nil {
		return err
	}
	r.publish(telemetry.EventLoopRunComplete, map[string]any{
		"run_id":           st.RunID,
		"status":           string(StatusCompleted),
		"reason":           string(reason),
		"subset":           st.CurrentSubset,
		"total_iterations": st.TotalIterations,
		"duration_ms":      st.TotalDurationMS,
	})
	r.logger.Info().
		Str("run_id", st.RunID).
		Str("reason", string(reason)).
		Int("total_iterations", st.TotalIterations).
		Msg("training loop complete")
	return nil
}

// fail records an iteration failure and stops the run.
func (r *Runner) fail(st *State, cause error) error {
	st.Status = StatusFailed
	st.Error = cause.Error()
	if err := r.persist(st); err != nil {
		r.logger.Warn().Err(err).Msg("persisting failed state")
	}
	r.publish(telemetry.EventLoopRunComplete, map[string]any{
		"run_id":           st.RunID,
		"status":           string(StatusFailed),
		"reason":           string(ReasonIteration),
		"error":            cause.Error(),
		"total_iterations": st.TotalIterations,
	})
	r.logger.Error().Err(cause).Str("run_id", st.RunID).Msg("training loop failed")
	return &Error{Reason: ReasonIteration, Err: cause}
}

// waitResume parks until Resume or cancellation. The paused status is
// persisted, and a process killed while paused starts a fresh run rather than
// auto-resuming.
func (r *Runner) waitResume(ctx context.Context, st *State) error {
	r.mu.Lock()
	if !r.pauseReq {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.resumeCh = ch
	r.mu.Unlock()

	st.Status = StatusPaused
	if err := r.persist(st); err != nil {
		return err
	}
	r.logger.Info().Str("run_id", st.RunID).Msg("training loop paused")

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	st.Status = StatusRunning
	if err := r.persist(st); err != nil {
		return err
	}
	r.logger.Info().Str("run_id", st.RunID).Msg("training loop resumed")
	return nil
}

func (r *Runner) pauseRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseReq
}

// writeEpisode records the full episode document under gym/<run_id>/ and
// stamps ResultsPath.
func (r *Runner) writeEpisode(ep *Episode) error {
	dir := r.ws.GymRunDir(ep.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	ep.ResultsPath = filepath.Join(dir, ep.ID+".json")
	data, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return err
	}
	return workspace.WriteFileAtomic(ep.ResultsPath, data)
}

// persist checkpoints the state and refreshes the copy served by State().
func (r *Runner) persist(st *State) error {
	if err := saveState(r.statePath(), st); err != nil {
		return err
	}
	r.mu.Lock()
	r.state = copyState(st)
	r.mu.Unlock()
	return nil
}

func (r *Runner) statePath() string { return r.ws.TrainingStatePath() }

func (r *Runner) publish(eventType string, payload map[string]any) {
	r.bus.Publish(telemetry.NewEvent(eventType, payload))
}

func copyState(st *State) *State {
	cp := *st
	cp.SubsetIterations = maps.Clone(st.SubsetIterations)
	cp.SubsetSuccessRates = maps.Clone(st.SubsetSuccessRates)
	cp.BestSuccessRates = maps.Clone(st.BestSuccessRates)
	return &cp
}
