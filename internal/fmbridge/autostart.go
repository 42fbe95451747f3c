package fmbridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/chat"
)

const (
	// DefaultStartupTimeout bounds the wait for a freshly spawned bridge to
	// report healthy.
	DefaultStartupTimeout = 10 * time.Second

	// DefaultHealthInterval is the poll cadence while waiting for startup.
	DefaultHealthInterval = 500 * time.Millisecond

	// DefaultLockStaleAfter is how old a lock file may be before another
	// process may steal it. A healthy launcher holds the lock for well under
	// a minute.
	DefaultLockStaleAfter = 60 * time.Second

	lockFileName = "fm-bridge.lock"
)

// Launcher converges concurrent gym processes on a single running bridge.
// Exactly one process wins the lock file and spawns the binary; the rest
// poll /health until the winner's bridge comes up.
type Launcher struct {
	client         *Client
	bridgePath     string
	lockPath       string
	startupTimeout time.Duration
	healthInterval time.Duration
	staleAfter     time.Duration
	logger         zerolog.Logger
}

// LauncherOptions configures bridge auto-start.
type LauncherOptions struct {
	// BridgePath is the bridge binary. Empty means look up "fm-bridge" on
	// PATH; the FM_BRIDGE_PATH environment override is applied by the
	// config layer before it reaches here.
	BridgePath     string
	LockPath       string // empty means <tmp>/fm-bridge.lock
	StartupTimeout time.Duration
	HealthInterval time.Duration
	LockStaleAfter time.Duration
}

// NewLauncher builds a launcher for the given client.
func NewLauncher(client *Client, opts LauncherOptions, logger zerolog.Logger) *Launcher {
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(os.TempDir(), lockFileName)
	}
	startupTimeout := opts.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	healthInterval := opts.HealthInterval
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}
	staleAfter := opts.LockStaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &Launcher{
		client:         client,
		bridgePath:     opts.BridgePath,
		lockPath:       lockPath,
		startupTimeout: startupTimeout,
		healthInterval: healthInterval,
		staleAfter:     staleAfter,
		logger:         logger.With().Str("component", "fmbridge").Logger(),
	}
}

// EnsureRunning returns once the bridge answers /health, starting it if
// needed. Safe to call from many processes at once: the lock file elects one
// starter, and losers wait on health instead of double-spawning.
func (l *Launcher) EnsureRunning(ctx context.Context) error {
	if h, err := l.client.Health(ctx); err == nil && h.Ready() {
		return nil
	}

	// The bridge wraps on-device Foundation Models; off macOS there is
	// nothing to start. A remote bridge would have answered health above.
	if runtime.GOOS != "darwin" {
		return &chat.ProviderError{Provider: "fm", Reason: chat.ReasonNotMacOS,
			Cause: fmt.Errorf("cannot start bridge on %s", runtime.GOOS)}
	}

	acquired, err := l.acquireLock()
	if err != nil {
		return err
	}
	if !acquired {
		// Another process is starting the bridge. Wait for it.
		l.logger.Debug().Str("lock", l.lockPath).Msg("bridge start in progress elsewhere, waiting on health")
		return l.waitHealthy(ctx)
	}
	defer l.releaseLock()

	binary, err := l.resolveBinary()
	if err != nil {
		return err
	}

	l.logger.Info().Str("binary", binary).Msg("starting fm bridge")
	cmd := exec.Command(binary)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return &chat.ProviderError{Provider: "fm", Reason: chat.ReasonBridgeNotFound,
			Cause: fmt.Errorf("starting %s: %w", binary, err)}
	}
	// The bridge outlives this process; detach rather than reap.
	if err := cmd.Process.Release(); err != nil {
		l.logger.Debug().Err(err).Msg("releasing bridge process handle")
	}

	return l.waitHealthy(ctx)
}

// resolveBinary locates the bridge binary, mapping a miss to
// bridge_not_found.
func (l *Launcher) resolveBinary() (string, error) {
	if l.bridgePath != "" {
		if _, err := os.Stat(l.bridgePath); err != nil {
			return "", &chat.ProviderError{Provider: "fm", Reason: chat.ReasonBridgeNotFound,
				Cause: fmt.Errorf("bridge binary %s: %w", l.bridgePath, err)}
		}
		return l.bridgePath, nil
	}
	path, err := exec.LookPath("fm-bridge")
	if err != nil {
		return "", &chat.ProviderError{Provider: "fm", Reason: chat.ReasonBridgeNotFound,
			Cause: fmt.Errorf("fm-bridge not on PATH: %w", err)}
	}
	return path, nil
}

// acquireLock creates the lock file exclusively. Returns false when a live
// lock is held elsewhere. A lock older than staleAfter is removed and the
// acquisition retried once; two processes racing the removal still converge,
// the loser just waits on health.
func (l *Launcher) acquireLock() (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			content := fmt.Sprintf("%d %d", time.Now().UnixMilli(), os.Getpid())
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				os.Remove(l.lockPath)
				return false, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed,
					Cause: fmt.Errorf("writing lock %s: %w", l.lockPath, werr)}
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(l.lockPath)
				return false, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed,
					Cause: fmt.Errorf("closing lock %s: %w", l.lockPath, cerr)}
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, &chat.ProviderError{Provider: "fm", Reason: chat.ReasonRequestFailed,
				Cause: fmt.Errorf("creating lock %s: %w", l.lockPath, err)}
		}
		if attempt == 0 && l.lockIsStale() {
			l.logger.Warn().Str("lock", l.lockPath).Msg("removing stale bridge lock")
			os.Remove(l.lockPath)
			continue
		}
		return false, nil
	}
	return false, nil
}

// lockIsStale reports whether the existing lock's timestamp is older than
// staleAfter. Unreadable or malformed locks count as stale; a crashed
// starter must not wedge every later process.
func (l *Launcher) lockIsStale() bool {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return !os.IsNotExist(err)
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) < 1 {
		return true
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return true
	}
	return time.Since(time.UnixMilli(ms)) > l.staleAfter
}

func (l *Launcher) releaseLock() {
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		l.logger.Debug().Err(err).Str("lock", l.lockPath).Msg("releasing bridge lock")
	}
}

// waitHealthy polls /health every healthInterval until the bridge is ready
// or the startup timeout elapses.
func (l *Launcher) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(l.startupTimeout)
	ticker := time.NewTicker(l.healthInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		h, err := l.client.Health(ctx)
		if err == nil && h.Ready() {
			if !h.ModelAvailable {
				return &chat.ProviderError{Provider: "fm", Reason: chat.ReasonModelUnavailable,
					Cause: fmt.Errorf("bridge up but model not available")}
			}
			l.logger.Debug().Str("version", h.Version).Msg("fm bridge healthy")
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if time.Now().After(deadline) {
			if lastErr == nil {
				lastErr = fmt.Errorf("bridge not ready after %s", l.startupTimeout)
			}
			return &chat.ProviderError{Provider: "fm", Reason: chat.ReasonServerNotRunning,
				Cause: fmt.Errorf("waiting for bridge: %w", lastErr)}
		}
		select {
		case <-ctx.Done():
			return &chat.ProviderError{Provider: "fm", Reason: chat.ReasonTimeout, Cause: ctx.Err()}
		case <-ticker.C:
		}
	}
}
