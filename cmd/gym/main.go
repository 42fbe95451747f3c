// Gym is the OpenAgents training harness: it runs hill-climbing iterations
// over a task suite, records trajectories and distills them into skills.
package main

import (
	"fmt"
	"os"

	"github.com/openagents/gym/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
