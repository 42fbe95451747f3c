package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/atif"
)

var trajectoryCmd = &cobra.Command{
	Use:   "trajectory",
	Short: "Inspect stored trajectories",
}

var trajectoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runTrajectoryList,
}

var trajectoryShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print a trajectory document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrajectoryShow,
}

var trajectoryTreeCmd = &cobra.Command{
	Use:   "tree <session>",
	Short: "Print a session and its subagent descendants",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrajectoryTree,
}

func init() {
	trajectoryCmd.AddCommand(trajectoryListCmd)
	trajectoryCmd.AddCommand(trajectoryShowCmd)
	trajectoryCmd.AddCommand(trajectoryTreeCmd)
}

func trajectoryStore() *atif.Store {
	return atif.NewStore(ws.TrajectoriesDir(), false, logger)
}

func runTrajectoryList(_ *cobra.Command, _ []string) error {
	st := trajectoryStore()
	ids, err := st.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no trajectories recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tAGENT\tSTEPS\tCOST")
	for _, id := range ids {
		meta, err := st.Metadata(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t?\t?\n", id)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\n", id, meta.AgentName, meta.StepCount, meta.TotalCostUSD)
	}
	return w.Flush()
}

func runTrajectoryShow(_ *cobra.Command, args []string) error {
	t, err := trajectoryStore().Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func runTrajectoryTree(_ *cobra.Command, args []string) error {
	st := trajectoryStore()
	ids, err := st.GetTree(args[0])
	if err != nil {
		return err
	}

	// Re-derive each node's depth from its parent link; GetTree returns
	// breadth-first order, root first.
	depth := map[string]int{args[0]: 0}
	for _, id := range ids {
		meta, err := st.Metadata(id)
		if err != nil {
			continue
		}
		for _, child := range meta.ChildSessionIDs {
			if _, ok := depth[child]; !ok {
				depth[child] = depth[id] + 1
			}
		}
		fmt.Printf("%s%s (%s, %d steps)\n", strings.Repeat("  ", depth[id]), id, meta.AgentName, meta.StepCount)
	}
	return nil
}
