package hillclimb

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/chat"
	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

// TaskRunResult is what one agent attempt at a task produced.
type TaskRunResult struct {
	Passed       bool     `json:"passed"`
	Turns        int      `json:"turns"`
	ErrorMessage string   `json:"error_message,omitempty"`
	StepSummary  []string `json:"step_summary,omitempty"` // up to 3 entries
}

// TaskRunner runs the agent under training against one task with the given
// config. Implementations decide the agent and its environment.
type TaskRunner interface {
	RunTask(ctx context.Context, taskID string, cfg ConfigInput) (*TaskRunResult, error)
}

// IterationResult reports one climb iteration.
type IterationResult struct {
	TaskID    string        `json:"task_id"`
	RunNumber int           `json:"run_number"`
	Passed    bool          `json:"passed"`
	Turns     int           `json:"turns"`
	Change    ConfigChange  `json:"change"`
	Config    ConfigInput   `json:"config"` // config after the change
	Hash      string        `json:"hash"`
	RunResult TaskRunResult `json:"run_result"`
}

// Climber owns the run→record→propose→apply loop for per-task configs.
type Climber struct {
	store  *store.Store
	runner TaskRunner
	chat   chat.Client
	cfg    config.HillClimbConfig
	bus    *telemetry.Bus
	logger zerolog.Logger
}

// NewClimber wires a climber. chatClient is usually the provider registry;
// bus may be nil.
func NewClimber(st *store.Store, runner TaskRunner, chatClient chat.Client,
	cfg config.HillClimbConfig, bus *telemetry.Bus, logger zerolog.Logger) *Climber {
	return &Climber{
		store:  st,
		runner: runner,
		chat:   chatClient,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With().Str("component", "hillclimb").Logger(),
	}
}

// seedHint resolves a task's seed hint: operator config first, then the
// built-in table.
func (c *Climber) seedHint(taskID string) string {
	if h, ok := c.cfg.SeedHints[taskID]; ok {
		return h
	}
	return SeedHint(taskID)
}

// loadConfig returns the persisted config for the task or a fresh one seeded
// from the hint table.
func (c *Climber) loadConfig(ctx context.Context, taskID string) (ConfigInput, error) {
	stored, err := c.store.GetTaskConfig(ctx, taskID)
	if err == nil {
		return ConfigInput{
			TaskID:           stored.TaskID,
			Hint:             stored.Hint,
			UseSkills:        stored.UseSkills,
			MaxTurnsOverride: stored.MaxTurnsOverride,
		}, nil
	}
	if !store.IsNotFound(err) {
		return ConfigInput{}, err
	}
	return ConfigInput{TaskID: taskID, Hint: c.seedHint(taskID)}, nil
}

// Iterate performs one full climb iteration for a task: load config, run the
// task, record, propose a change, apply and persist.
func (c *Climber) Iterate(ctx context.Context, taskID string) (*IterationResult, error) {
	cfg, err := c.loadConfig(ctx, taskID)
	if err != nil {
		return nil, err
	}

	result, err := c.runner.RunTask(ctx, taskID, cfg)
	if err != nil {
		return nil, err
	}

	runNumber, err := c.store.NextRunNumber(ctx, taskID)
	if err != nil {
		return nil, err
	}
	run := &store.Run{
		TaskID:       taskID,
		RunNumber:    runNumber,
		Passed:       result.Passed,
		Turns:        result.Turns,
		ErrorMessage: result.ErrorMessage,
		ConfigHash:   cfg.Hash(),
		Hint:         cfg.Hint,
	}
	if err := c.store.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	c.publish(telemetry.EventClimbRunRecorded, map[string]any{
		"task_id":    taskID,
		"run_number": runNumber,
		"passed":     result.Passed,
		"turns":      result.Turns,
	})

	if result.Passed {
		if err := c.store.UpdateBest(ctx, taskID, cfg.Hint); err != nil {
			c.logger.Warn().Err(err).Str("task_id", taskID).Msg("updating best hint")
		}
	}

	change := c.propose(ctx, taskID, cfg, result, runNumber)
	next := Apply(cfg, change)
	hash := next.Hash()

	if err := c.store.SaveTaskConfig(ctx, &store.TaskConfig{
		TaskID:           taskID,
		Hint:             next.Hint,
		UseSkills:        next.UseSkills,
		MaxTurnsOverride: next.MaxTurnsOverride,
		ConfigHash:       hash,
	}); err != nil {
		return nil, err
	}

	if change.Type != ChangeKeep {
		c.publish(telemetry.EventClimbConfigChange, map[string]any{
			"task_id":   taskID,
			"type":      string(change.Type),
			"reasoning": change.Reasoning,
			"hash":      hash,
		})
	}

	c.logger.Info().
		Str("task_id", taskID).
		Int("run", runNumber).
		Bool("passed", result.Passed).
		Int("turns", result.Turns).
		Str("change", string(change.Type)).
		Msg("climb iteration complete")

	return &IterationResult{
		TaskID:    taskID,
		RunNumber: runNumber,
		Passed:    result.Passed,
		Turns:     result.Turns,
		Change:    change,
		Config:    next,
		Hash:      hash,
		RunResult: *result,
	}, nil
}

// Climb runs n iterations for a task, stopping early on context
// cancellation.
func (c *Climber) Climb(ctx context.Context, taskID string, n int) ([]*IterationResult, error) {
	var results []*IterationResult
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := c.Iterate(ctx, taskID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// propose asks the meta-reasoner for a change, falling back to the heuristic
// when the call fails. Every run uses the free model; every Nth run routes
// through the auto model for a stronger opinion.
func (c *Climber) propose(ctx context.Context, taskID string, cfg ConfigInput,
	result *TaskRunResult, runNumber int) ConfigChange {

	hist, err := c.store.History(ctx, taskID)
	if err != nil {
		c.logger.Warn().Err(err).Str("task_id", taskID).Msg("loading history, using heuristic")
		return HeuristicChange(cfg, result, c.seedHint(taskID))
	}

	model := c.cfg.FreeModel
	if c.cfg.AutoEvery > 0 && runNumber%c.cfg.AutoEvery == 0 {
		model = c.cfg.AutoModel
	}

	resp, err := c.chat.Chat(ctx, chat.Request{
		Model:    model,
		Messages: []chat.Message{{Role: "user", Content: buildMetaPrompt(cfg, result, hist)}},
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("model", model).Msg("meta reasoner unreachable, using heuristic")
		return HeuristicChange(cfg, result, c.seedHint(taskID))
	}

	hint, keep := parseMetaReply(resp.Text())
	if keep {
		return ConfigChange{Type: ChangeKeep, Reasoning: "meta reasoner kept the current hint"}
	}
	if hint == cfg.Hint {
		return ConfigChange{Type: ChangeKeep, Reasoning: "meta reasoner repeated the current hint"}
	}

	tried, err := c.store.HintTried(ctx, taskID, hint)
	if err != nil {
		c.logger.Warn().Err(err).Msg("checking tried hints")
	}
	if tried {
		// The guideline forbids re-proposals; a collision demotes to keep.
		return ConfigChange{Type: ChangeKeep, Reasoning: "meta reasoner re-proposed a tried hint"}
	}

	return ConfigChange{Type: ChangeUpdateHint, NewHint: hint, Reasoning: "meta reasoner proposal"}
}

func (c *Climber) publish(eventType string, payload map[string]any) {
	if c.bus != nil {
		c.bus.Publish(telemetry.NewEvent(eventType, payload))
	}
}
