package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the FM bridge health document",
	Long: `Health queries the local FM bridge and prints its health JSON to
stdout. Exits non-zero when the bridge is unreachable or not ready.`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	fm := newFMClient()
	h, err := fm.Health(cmd.Context())
	if h != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(h)
	}
	if err != nil {
		return err
	}
	if !h.Ready() {
		return fmt.Errorf("fm bridge not ready: status '%s'", h.Status)
	}
	return nil
}
