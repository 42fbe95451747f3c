package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/fmbridge"
	"github.com/openagents/gym/internal/hillclimb"
	"github.com/openagents/gym/internal/loop"
	"github.com/openagents/gym/internal/sandbox"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

var (
	trainModel   string
	trainSubset  string
	trainMaxIter int
	trainMaxDur  time.Duration
	trainResume  bool
	trainHUD     bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the progressive training loop",
	Long: `Train drives the benchmark progression: climb every task in the
current subset once per iteration, advance from TB_10 through TB_30 to
TB_89 when the latest pass rate clears the threshold, checkpoint after
every iteration. Interrupting with Ctrl-C leaves a resumable checkpoint;
--resume picks it up.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVarP(&trainModel, "model", "m", "fm", "model under training (fm = local bridge)")
	trainCmd.Flags().StringVar(&trainSubset, "subset", "", "starting subset: TB_10|TB_30|TB_89 (default from config)")
	trainCmd.Flags().IntVar(&trainMaxIter, "max-iterations", 0, "stop after N iterations (0 = unlimited)")
	trainCmd.Flags().DurationVar(&trainMaxDur, "max-duration", 0, "cumulative wall-clock budget, e.g. 2h (0 = unlimited)")
	trainCmd.Flags().BoolVar(&trainResume, "resume", false, "resume an interrupted run from its checkpoint")
	trainCmd.Flags().BoolVar(&trainHUD, "hud", false, "serve the HUD (websocket events + metrics) while training")
}

func runTrain(cmd *cobra.Command, _ []string) error {
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
	bus := telemetry.NewBus()

	if trainHUD {
		hub := telemetry.NewHub(bus, metrics, logger)
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.HUD.Listen); err != nil {
				logger.Warn().Err(err).Msg("hud stopped")
			}
		}()
	}

	reg := buildRegistry(ctx, metrics)

	if trainModel == "fm" {
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

	worker := fmbridge.NewWorker(reg, trainModel, logger)
	taskRunner := hillclimb.NewWorkerRunner(worker, exec, hillclimb.WorkerRunnerOptions{
		TrajectoriesDir: ws.TrajectoriesDir(),
		Agent:           atif.Agent{Name: "openagents", Version: Version, ModelName: trainModel},
		Skills:          db,
		Metrics:         metrics,
	}, logger)
	climber := hillclimb.NewClimber(db, taskRunner, reg, cfg.HillClimb, bus, logger)

	loopCfg := cfg.Loop
	if trainSubset != "" {
		loopCfg.StartSubset = trainSubset
	}
	if cmd.Flags().Changed("max-iterations") {
		loopCfg.MaxIterations = trainMaxIter
	}
	if cmd.Flags().Changed("max-duration") {
		loopCfg.MaxDuration = trainMaxDur
	}
	if trainResume {
		loopCfg.AutoResume = true
	}

	runner, err := loop.NewRunner(ws, loop.NewClimbRunner(climber, trainModel, logger), loopCfg, bus, metrics, logger)
	if err != nil {
		return err
	}

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		st := runner.State()
		logger.Info().
			Str("run_id", st.RunID).
			Int("total_iterations", st.TotalIterations).
			Msg("training interrupted; rerun with --resume to continue")
		return nil
	}
	return err
}
