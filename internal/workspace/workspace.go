// Package workspace resolves and lays out the per-project .openagents directory.
//
// DESIGN: Every stateful component persists under one workspace root:
//   - trajectories/YYYYMMDD/  ATIF session logs + indexes
//   - training/               loop-runner checkpoint
//   - gym/<run_id>/           per-run episode results
//   - openagents.db           SQLite (skills, memory, hill-climber, test-gen)
//
// Resolution order: explicit path, nearest .openagents walking up from the
// working directory, else .openagents under the working directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the workspace directory name looked up during resolution.
const DirName = ".openagents"

// Workspace is a resolved workspace root. All paths are absolute.
type Workspace struct {
	Root string
}

// Resolve locates the workspace root. An explicit path wins; otherwise the
// nearest existing .openagents directory walking up from cwd; otherwise
// cwd/.openagents (not created until EnsureLayout).
func Resolve(explicit string) (*Workspace, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace path '%s': %w", explicit, err)
		}
		return &Workspace{Root: abs}, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	for dir := cwd; ; {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return &Workspace{Root: candidate}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Workspace{Root: filepath.Join(cwd, DirName)}, nil
}

// EnsureLayout creates the workspace directory tree idempotently.
func (w *Workspace) EnsureLayout() error {
	for _, dir := range []string{
		w.Root,
		w.TrajectoriesDir(),
		w.TrainingDir(),
		w.GymDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory '%s': %w", dir, err)
		}
	}
	return nil
}

// TrajectoriesDir is the base directory for ATIF session logs.
func (w *Workspace) TrajectoriesDir() string { return filepath.Join(w.Root, "trajectories") }

// TrainingDir holds loop-runner state.
func (w *Workspace) TrainingDir() string { return filepath.Join(w.Root, "training") }

// TrainingStatePath is the loop-runner checkpoint file.
func (w *Workspace) TrainingStatePath() string {
	return filepath.Join(w.TrainingDir(), "loop-state.json")
}

// GymDir holds per-run episode results.
func (w *Workspace) GymDir() string { return filepath.Join(w.Root, "gym") }

// GymRunDir is the episode-results directory for one training run.
func (w *Workspace) GymRunDir(runID string) string { return filepath.Join(w.GymDir(), runID) }

// DBPath is the SQLite database file.
func (w *Workspace) DBPath() string { return filepath.Join(w.Root, "openagents.db") }

// ConfigPath is the optional workspace-local config file.
func (w *Workspace) ConfigPath() string { return filepath.Join(w.Root, "gym.yaml") }
