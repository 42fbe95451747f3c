// Package sandbox runs task commands in an isolated working directory,
// either directly on the host or inside a Docker container. Agent-driven
// runs and environment probes share the same executor seam, so a task suite
// behaves identically under both backends.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/telemetry"
)

const (
	// DefaultTimeout bounds one execution when the spec does not say.
	DefaultTimeout = 2 * time.Minute

	// maxStreamBytes caps captured stdout/stderr per stream. Runaway task
	// output must not blow up trajectory files.
	maxStreamBytes = 1 << 20
)

// Spec describes one command execution. Either Command+Args or Script is
// set; Script runs through "sh -c". Workdir names a host directory: the
// local backend runs the command in it, the docker backend mounts it at the
// container workdir.
type Spec struct {
	Command string
	Args    []string
	Script  string
	Workdir string
	Env     []string // KEY=VALUE pairs appended to the backend's environment
	Timeout time.Duration
}

func (s Spec) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// argv renders the spec as a command vector.
func (s Spec) argv() []string {
	if s.Script != "" {
		return []string{"sh", "-c", s.Script}
	}
	return append([]string{s.Command}, s.Args...)
}

// Result is the outcome of one execution. A non-zero exit is a result, not
// an error; errors mean the execution itself could not be carried out.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// Executor runs commands in a sandbox backend.
type Executor interface {
	// Execute runs the spec and captures its output. The context bounds the
	// whole call in addition to the spec's own timeout.
	Execute(ctx context.Context, spec Spec) (*Result, error)
	// Name identifies the backend ("local" or "docker").
	Name() string
}

// New builds the executor named by the config.
func New(cfg config.SandboxConfig, metrics *telemetry.Metrics, logger zerolog.Logger) (Executor, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalExecutor(cfg.Workdir, metrics, logger), nil
	case "docker":
		return NewDockerExecutor(cfg.Image, cfg.Workdir, metrics, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

// observe records the per-execution metric with a coarse outcome label.
func observe(metrics *telemetry.Metrics, backend string, res *Result, err error) {
	switch {
	case err != nil:
		metrics.IncSandboxExecution(backend, "error")
	case res != nil && res.TimedOut:
		metrics.IncSandboxExecution(backend, "timeout")
	default:
		metrics.IncSandboxExecution(backend, "ok")
	}
}
