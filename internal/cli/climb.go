package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/fmbridge"
	"github.com/openagents/gym/internal/hillclimb"
	"github.com/openagents/gym/internal/sandbox"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

var (
	climbTask  string
	climbRuns  int
	climbModel string
)

var climbCmd = &cobra.Command{
	Use:   "climb",
	Short: "Hill-climb one benchmark task",
	Long: `Climb runs the hill climber against a single task: run with the
current config, record the outcome, ask the meta-reasoner for one change,
apply it. Each iteration's result is printed as a JSON line.`,
	RunE: runClimb,
}

func init() {
	climbCmd.Flags().StringVarP(&climbTask, "task", "t", "", "benchmark task ID (required)")
	climbCmd.Flags().IntVarP(&climbRuns, "runs", "n", 1, "number of climb iterations")
	climbCmd.Flags().StringVarP(&climbModel, "model", "m", "fm", "model under training")
	_ = climbCmd.MarkFlagRequired("task")
}

func runClimb(cmd *cobra.Command, _ []string) error {
	if _, ok := decompose.Task(climbTask); !ok {
		return fmt.Errorf("unknown task '%s'; see the TB_89 catalog", climbTask)
	}
	if climbRuns < 1 {
		return fmt.Errorf("--runs must be >= 1")
	}

	if err := ws.EnsureLayout(); err != nil {
		return err
	}
	db, err := store.Open(ws.DBPath(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	metrics := telemetry.NewMetrics()
	reg := buildRegistry(ctx, metrics)

	if climbModel == "fm" {
		fm := newFMClient()
		launcher := fmbridge.NewLauncher(fm, fmbridge.LauncherOptions{
			BridgePath:     cfg.FM.BridgePath,
			StartupTimeout: cfg.FM.StartupTimeout,
			HealthInterval: cfg.FM.HealthInterval,
			LockStaleAfter: cfg.FM.LockStaleAfter,
		}, logger)
		if err := launcher.EnsureRunning(ctx); err != nil {
			return fmt.Errorf("fm bridge: %w", err)
		}
	}

	exec, err := sandbox.New(cfg.Sandbox, metrics, logger)
	if err != nil {
		return err
	}

	worker := fmbridge.NewWorker(reg, climbModel, logger)
	taskRunner := hillclimb.NewWorkerRunner(worker, exec, hillclimb.WorkerRunnerOptions{
		TrajectoriesDir: ws.TrajectoriesDir(),
		Agent:           atif.Agent{Name: "openagents", Version: Version, ModelName: climbModel},
		Skills:          db,
		Metrics:         metrics,
	}, logger)
	climber := hillclimb.NewClimber(db, taskRunner, reg, cfg.HillClimb, nil, logger)

	enc := json.NewEncoder(os.Stdout)
	for i := 0; i < climbRuns; i++ {
		res, err := climber.Iterate(ctx, climbTask)
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}
