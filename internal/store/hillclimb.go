package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// TaskConfig is the persisted hill-climber configuration for one task.
type TaskConfig struct {
	TaskID           string    `json:"task_id"`
	Hint             string    `json:"hint"`
	UseSkills        bool      `json:"use_skills"`
	MaxTurnsOverride *int      `json:"max_turns_override,omitempty"`
	ConfigHash       string    `json:"config_hash"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetTaskConfig loads the config for a task; not_found when the task has
// never been climbed.
func (s *Store) GetTaskConfig(ctx context.Context, taskID string) (*TaskConfig, error) {
	var cfg TaskConfig
	var useSkills int
	var maxTurns sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, hint, use_skills, max_turns_override, config_hash, updated_at
		FROM hillclimb_configs WHERE task_id = ?`, taskID).
		Scan(&cfg.TaskID, &cfg.Hint, &useSkills, &maxTurns, &cfg.ConfigHash, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, wrapErr(ReasonNotFound, "get task config", err)
	}
	if err != nil {
		return nil, wrapErr(ReasonQuery, "get task config", err)
	}
	cfg.UseSkills = useSkills != 0
	if maxTurns.Valid {
		v := int(maxTurns.Int64)
		cfg.MaxTurnsOverride = &v
	}
	return &cfg, nil
}

// SaveTaskConfig upserts the config for a task.
func (s *Store) SaveTaskConfig(ctx context.Context, cfg *TaskConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	var maxTurns any
	if cfg.MaxTurnsOverride != nil {
		maxTurns = *cfg.MaxTurnsOverride
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hillclimb_configs (task_id, hint, use_skills, max_turns_override, config_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			hint = excluded.hint,
			use_skills = excluded.use_skills,
			max_turns_override = excluded.max_turns_override,
			config_hash = excluded.config_hash,
			updated_at = excluded.updated_at`,
		cfg.TaskID, cfg.Hint, boolToInt(cfg.UseSkills), maxTurns, cfg.ConfigHash, cfg.UpdatedAt)
	if err != nil {
		return wrapErr(ReasonInsert, "save task config", err)
	}
	return nil
}

// Run is one recorded hill-climber attempt.
type Run struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	RunNumber    int       `json:"run_number"`
	Passed       bool      `json:"passed"`
	Turns        int       `json:"turns"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ConfigHash   string    `json:"config_hash"`
	Hint         string    `json:"hint"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordRun inserts a run, assigning id, run number, and timestamp when
// missing.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.RunNumber <= 0 {
		n, err := s.NextRunNumber(ctx, r.TaskID)
		if err != nil {
			return err
		}
		r.RunNumber = n
	}

	var errMsg any
	if r.ErrorMessage != "" {
		errMsg = r.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hillclimb_runs (id, task_id, run_number, passed, turns, error_message, config_hash, hint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.RunNumber, boolToInt(r.Passed), r.Turns, errMsg, r.ConfigHash, r.Hint, r.CreatedAt)
	if err != nil {
		return wrapErr(ReasonInsert, "record run", err)
	}
	return nil
}

// NextRunNumber returns the run number the next attempt should carry.
func (s *Store) NextRunNumber(ctx context.Context, taskID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run_number), 0) FROM hillclimb_runs WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return 0, wrapErr(ReasonQuery, "next run number", err)
	}
	return max + 1, nil
}

// HintTried reports whether a hint was already used in any recorded run for
// the task.
func (s *Store) HintTried(ctx context.Context, taskID, hint string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM hillclimb_runs WHERE task_id = ? AND hint = ?`, taskID, hint).Scan(&n)
	if err != nil {
		return false, wrapErr(ReasonQuery, "hint tried", err)
	}
	return n > 0, nil
}

// BestConfig is the best-performing hint observed for a task.
type BestConfig struct {
	TaskID string  `json:"task_id"`
	Hint   string  `json:"hint"`
	Score  float64 `json:"score"` // pass rate of runs under this hint
	Runs   int     `json:"runs"`
	Passes int     `json:"passes"`
}

// UpdateBest recomputes the given hint's pass rate over its recorded runs
// and replaces the stored best when it scores at least as well. Called after
// passing runs so the best row tracks fresher evidence on ties.
func (s *Store) UpdateBest(ctx context.Context, taskID, hint string) error {
	var runs, passes int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(SUM(passed), 0)
		FROM hillclimb_runs WHERE task_id = ? AND hint = ?`, taskID, hint).
		Scan(&runs, &passes)
	if err != nil {
		return wrapErr(ReasonQuery, "update best", err)
	}
	if runs == 0 {
		return nil
	}
	score := float64(passes) / float64(runs)

	current, err := s.Best(ctx, taskID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if current != nil && score < current.Score {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hillclimb_best (task_id, hint, score, runs, passes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			hint = excluded.hint,
			score = excluded.score,
			runs = excluded.runs,
			passes = excluded.passes`,
		taskID, hint, score, runs, passes)
	if err != nil {
		return wrapErr(ReasonInsert, "update best", err)
	}
	return nil
}

// Best returns the best hint row for a task.
func (s *Store) Best(ctx context.Context, taskID string) (*BestConfig, error) {
	var b BestConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, hint, score, runs, passes FROM hillclimb_best WHERE task_id = ?`, taskID).
		Scan(&b.TaskID, &b.Hint, &b.Score, &b.Runs, &b.Passes)
	if err == sql.ErrNoRows {
		return nil, wrapErr(ReasonNotFound, "best", err)
	}
	if err != nil {
		return nil, wrapErr(ReasonQuery, "best", err)
	}
	return &b, nil
}

// RunOutcome is one run condensed for meta-reasoner history.
type RunOutcome struct {
	RunNumber    int    `json:"run_number"`
	Passed       bool   `json:"passed"`
	Turns        int    `json:"turns"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// History is the condensed climb record fed to the meta-reasoner prompt.
type History struct {
	TaskID      string       `json:"task_id"`
	TotalRuns   int          `json:"total_runs"`
	TotalPasses int          `json:"total_passes"`
	PassRate    float64      `json:"pass_rate"`
	BestHint    string       `json:"best_hint"`
	BestScore   float64      `json:"best_score"`
	TriedHints  []string     `json:"tried_hints"` // up to 5, most recent first
	Recent      []RunOutcome `json:"recent"`      // up to 5, most recent first
}

// History assembles totals, best, recently tried hints, and recent outcomes
// for a task.
func (s *Store) History(ctx context.Context, taskID string) (*History, error) {
	h := &History{TaskID: taskID}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(SUM(passed), 0)
		FROM hillclimb_runs WHERE task_id = ?`, taskID).
		Scan(&h.TotalRuns, &h.TotalPasses)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "history totals", err)
	}
	if h.TotalRuns > 0 {
		h.PassRate = float64(h.TotalPasses) / float64(h.TotalRuns)
	}

	if best, err := s.Best(ctx, taskID); err == nil {
		h.BestHint = best.Hint
		h.BestScore = best.Score
	} else if !IsNotFound(err) {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hint, MAX(run_number) AS last_run
		FROM hillclimb_runs
		WHERE task_id = ? AND hint != ''
		GROUP BY hint ORDER BY last_run DESC LIMIT 5`, taskID)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "history hints", err)
	}
	for rows.Next() {
		var hint string
		var lastRun int
		if err := rows.Scan(&hint, &lastRun); err != nil {
			rows.Close()
			return nil, wrapErr(ReasonQuery, "history hints", err)
		}
		h.TriedHints = append(h.TriedHints, hint)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr(ReasonQuery, "history hints", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT run_number, passed, turns, COALESCE(error_message, '')
		FROM hillclimb_runs
		WHERE task_id = ? ORDER BY run_number DESC LIMIT 5`, taskID)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "history outcomes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o RunOutcome
		var passed int
		if err := rows.Scan(&o.RunNumber, &passed, &o.Turns, &o.ErrorMessage); err != nil {
			return nil, wrapErr(ReasonQuery, "history outcomes", err)
		}
		o.Passed = passed != 0
		h.Recent = append(h.Recent, o)
	}
	return h, rows.Err()
}
