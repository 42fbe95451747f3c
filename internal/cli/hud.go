package cli

import (
	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/telemetry"
)

var hudListen string

var hudCmd = &cobra.Command{
	Use:   "hud",
	Short: "Serve the training HUD (websocket events + Prometheus metrics)",
	Long: `Serve the training HUD endpoints: /events streams telemetry over a
websocket, /metrics exposes Prometheus counters and /healthz reports liveness.

'gym train --hud' serves the same endpoints in-process; this standalone form
exists for dashboards that outlive a single training run.`,
	RunE: runHUD,
}

func init() {
	hudCmd.Flags().StringVar(&hudListen, "listen", "", "listen address (defaults to hud.listen from config)")
}

func runHUD(cmd *cobra.Command, _ []string) error {
	addr := hudListen
	if addr == "" {
		addr = cfg.HUD.Listen
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	bus := telemetry.NewBus()
	metrics := telemetry.NewMetrics()

	hub := telemetry.NewHub(bus, metrics, logger)
	return hub.ListenAndServe(ctx, addr)
}
