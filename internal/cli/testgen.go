package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/sandbox"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
	"github.com/openagents/gym/internal/testgen"
)

var (
	testgenTask   string
	testgenModel  string
	testgenPytest string
	testgenProbe  bool
)

var testgenCmd = &cobra.Command{
	Use:   "testgen",
	Short: "Generate a test suite for a benchmark task",
	Long: `Testgen runs the iterative generator for one task: per category it
generates tests, reflects on coverage, and stops when the reflection says
the category is complete. Lifecycle events stream to stdout as JSON lines,
followed by the full result document.`,
	RunE: runTestgen,
}

func init() {
	testgenCmd.Flags().StringVarP(&testgenTask, "task", "t", "", "benchmark task ID (required)")
	testgenCmd.Flags().StringVarP(&testgenModel, "model", "m", "", "generation model (local = fm bridge; default from config)")
	testgenCmd.Flags().StringVar(&testgenPytest, "pytest", "", "also render the suite as a pytest module at this path")
	testgenCmd.Flags().BoolVar(&testgenProbe, "probe", true, "probe the sandbox environment before generating")
	_ = testgenCmd.MarkFlagRequired("task")
}

func runTestgen(cmd *cobra.Command, _ []string) error {
	task, ok := decompose.Task(testgenTask)
	if !ok {
		return fmt.Errorf("unknown task '%s'; see the TB_89 catalog", testgenTask)
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
	bus := telemetry.NewBus()
	reg := buildRegistry(ctx, metrics)

	genCfg := cfg.TestGen
	switch testgenModel {
	case "":
	case "local":
		genCfg.Model = "fm"
	default:
		genCfg.Model = testgenModel
	}

	spec := testgen.TaskSpec{TaskID: task.ID, Description: task.Description}
	if testgenProbe {
		exec, err := sandbox.New(cfg.Sandbox, metrics, logger)
		if err != nil {
			return err
		}
		workdir, err := os.MkdirTemp("", "gym-testgen-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workdir)
		if env, err := testgen.NewProber(exec, logger).Gather(ctx, workdir, task.Description); err == nil {
			spec.Env = env
		} else {
			logger.Warn().Err(err).Msg("environment probe failed, generating without it")
		}
	}

	// Stream events as JSON lines; the printer owns stdout until the run
	// finishes, then the result document follows.
	enc := json.NewEncoder(os.Stdout)
	ch, cancelSub := bus.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range ch {
			_ = enc.Encode(ev)
		}
	}()

	gen := testgen.NewGenerator(reg, db, genCfg, bus, metrics, logger)
	res, runErr := gen.Run(ctx, spec)
	cancelSub()
	<-printed
	if runErr != nil {
		return runErr
	}

	if err := enc.Encode(res); err != nil {
		return err
	}

	if testgenPytest != "" {
		module := testgen.ToPytest(res.Tests, res.TaskID, testgen.KindCommand)
		if err := os.WriteFile(testgenPytest, []byte(module), 0644); err != nil {
			return fmt.Errorf("writing pytest module: %w", err)
		}
		logger.Info().Str("path", testgenPytest).Int("tests", len(res.Tests)).Msg("pytest module written")
	}
	return nil
}
