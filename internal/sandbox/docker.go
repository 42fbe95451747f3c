package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/telemetry"
)

// DockerExecutor runs each spec in a fresh container: create, start, wait,
// collect logs, remove. The image is pulled once on first use.
type DockerExecutor struct {
	cli     *client.Client
	image   string
	workdir string
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	imageReady bool
}

// NewDockerExecutor builds a container executor against the local daemon.
func NewDockerExecutor(img, workdir string, metrics *telemetry.Metrics, logger zerolog.Logger) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if workdir == "" {
		workdir = "/app"
	}
	return &DockerExecutor{
		cli:     cli,
		image:   img,
		workdir: workdir,
		metrics: metrics,
		logger:  logger.With().Str("component", "sandbox").Str("backend", "docker").Logger(),
	}, nil
}

// Name returns "docker".
func (e *DockerExecutor) Name() string { return "docker" }

// Close releases the Docker client.
func (e *DockerExecutor) Close() error { return e.cli.Close() }

// Execute runs the spec in a throwaway container.
func (e *DockerExecutor) Execute(ctx context.Context, spec Spec) (*Result, error) {
	res, err := e.execute(ctx, spec)
	observe(e.metrics, "docker", res, err)
	return res, err
}

func (e *DockerExecutor) execute(ctx context.Context, spec Spec) (*Result, error) {
	if err := e.ensureImage(ctx); err != nil {
		return nil, err
	}

	// spec.Workdir names a host directory; it is mounted at the container
	// workdir so commands share files with the host-side tools.
	hostCfg := &container.HostConfig{}
	if spec.Workdir != "" {
		hostCfg.Binds = []string{spec.Workdir + ":" + e.workdir}
	}

	created, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:      e.image,
		Cmd:        spec.argv(),
		Env:        spec.Env,
		WorkingDir: e.workdir,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.cli.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Debug().Err(err).Str("container", containerID[:12]).Msg("removing container")
		}
	}()

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, spec.timeout())
	defer cancel()

	statusCh, errCh := e.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	timedOut := false
	select {
	case err := <-errCh:
		if waitCtx.Err() == context.DeadlineExceeded {
			timedOut = true
			exitCode = -1
			stopTimeout := 5
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			if serr := e.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &stopTimeout}); serr != nil {
				e.logger.Debug().Err(serr).Msg("stopping timed-out container")
			}
			stopCancel()
		} else if err != nil {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}
	duration := time.Since(start).Milliseconds()

	stdout, stderr, err := e.collectLogs(containerID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		DurationMS: duration,
		TimedOut:   timedOut,
	}, nil
}

// ensureImage pulls the configured image if the daemon does not have it.
func (e *DockerExecutor) ensureImage(ctx context.Context) error {
	if e.imageReady {
		return nil
	}
	_, _, err := e.cli.ImageInspectWithRaw(ctx, e.image)
	if err == nil {
		e.imageReady = true
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", e.image, err)
	}

	e.logger.Info().Str("image", e.image).Msg("pulling sandbox image")
	rc, err := e.cli.ImagePull(ctx, e.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", e.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", e.image, err)
	}
	e.imageReady = true
	return nil
}

// collectLogs demultiplexes the container's log stream into capped stdout
// and stderr strings. Uses a background context; logs must be collectable
// even after the execution context expired.
func (e *DockerExecutor) collectLogs(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("getting container logs: %w", err)
	}
	defer out.Close()

	var stdout, stderr cappedBuffer
	stdout.limit = maxStreamBytes
	stderr.limit = maxStreamBytes
	if _, err := stdcopy.StdCopy(&stdout, &stderr, out); err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
