package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/telemetry"
)

// LocalExecutor runs specs directly on the host via os/exec. It is the
// default backend; task files live in a scratch directory the caller
// prepares, so host execution is already contained to that tree.
type LocalExecutor struct {
	workdir string
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewLocalExecutor builds a host executor. workdir is the default working
// directory when a spec names none.
func NewLocalExecutor(workdir string, metrics *telemetry.Metrics, logger zerolog.Logger) *LocalExecutor {
	return &LocalExecutor{
		workdir: workdir,
		metrics: metrics,
		logger:  logger.With().Str("component", "sandbox").Str("backend", "local").Logger(),
	}
}

// Name returns "local".
func (e *LocalExecutor) Name() string { return "local" }

// Execute runs the spec on the host. A deadline overrun reports
// TimedOut=true with exit code -1 instead of an error; callers treat
// timeouts as task outcomes.
func (e *LocalExecutor) Execute(ctx context.Context, spec Spec) (*Result, error) {
	res, err := e.execute(ctx, spec)
	observe(e.metrics, "local", res, err)
	return res, err
}

func (e *LocalExecutor) execute(ctx context.Context, spec Spec) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout())
	defer cancel()

	argv := spec.argv()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Workdir
	if cmd.Dir == "" {
		cmd.Dir = e.workdir
	}
	cmd.Env = append(os.Environ(), spec.Env...)

	var stdout, stderr cappedBuffer
	stdout.limit = maxStreamBytes
	stderr.limit = maxStreamBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	res := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: duration,
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		e.logger.Debug().Str("cmd", argv[0]).Int64("duration_ms", duration).Msg("execution timed out")
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// the command never ran: missing binary, bad workdir
		return nil, runErr
	}
	res.ExitCode = 0
	return res, nil
}

// cappedBuffer keeps the first limit bytes and silently discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
