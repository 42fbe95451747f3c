package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/archivist"
	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

var (
	archiveQuick bool
	archiveWatch bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Mine finished trajectories into skills and reflections",
	Long: `Archive scans unprocessed trajectories for repeated tool sequences
and error recoveries, promotes qualifying patterns to skills, and prunes
stale data. --quick skips the model-assisted extractor; --watch keeps
running and archives new sessions as they land.`,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().BoolVarP(&archiveQuick, "quick", "q", false, "heuristic mining only, no model calls")
	archiveCmd.Flags().BoolVar(&archiveWatch, "watch", false, "watch the trajectory store and archive continuously")
}

func runArchive(cmd *cobra.Command, _ []string) error {
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
	trajectories := atif.NewStore(ws.TrajectoriesDir(), true, logger)

	// The full extractor reuses the hill climber's free-tier meta model;
	// quick mode and the watcher stay heuristic-only.
	full := archivist.NewChatExtractor(buildRegistry(ctx, metrics), cfg.HillClimb.FreeModel, logger)
	arch := archivist.New(trajectories, db, full, archivist.HeuristicExtractor{}, cfg.Archivist, nil, metrics, logger)

	if archiveWatch {
		w := archivist.NewWatcher(arch, ws.TrajectoriesDir(), cfg.Archivist.WatchDebounce, logger)
		return w.Run(ctx)
	}

	var report *archivist.Report
	if archiveQuick {
		report, err = arch.RunQuickArchive(ctx)
	} else {
		report, err = arch.RunArchive(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
