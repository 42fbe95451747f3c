package atif

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/telemetry"
	"github.com/openagents/gym/internal/workspace"
)

// Paths are the on-disk locations owned by one streaming writer.
type Paths struct {
	JSONL string
	Index string
}

// StreamWriter appends one session to disk as it happens: a header line
// followed by one JSONL line per step, plus an index rewritten atomically
// after every step. Each session has exactly one writer; WriteStep and Close
// are serialized internally so the JSONL stays in write order and the index
// reflects the true step count.
//
// The JSONL is opened, appended, and closed per step. Appends are crash-safe;
// a reader must tolerate a trailing partial line. If the date directory
// disappears mid-run, the next write recreates it and retries once.
type StreamWriter struct {
	header    Header
	jsonlPath string
	indexPath string
	dateDir   string

	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	initialized bool
	closed      bool
	stepCount   int
	maxStepID   int
}

// NewStreamWriter prepares a writer for one session under baseDir. The date
// folder is derived from the session ID. Nothing touches disk until
// Initialize.
func NewStreamWriter(baseDir string, header Header, logger zerolog.Logger, metrics *telemetry.Metrics) *StreamWriter {
	header.HeaderMarker = true
	if header.SchemaVersion == "" {
		header.SchemaVersion = SchemaVersion
	}
	if header.CreatedAt == "" {
		header.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	dateDir := filepath.Join(baseDir, DateFolderForSession(header.SessionID))
	return &StreamWriter{
		header:    header,
		dateDir:   dateDir,
		jsonlPath: filepath.Join(dateDir, header.SessionID+".atif.jsonl"),
		indexPath: filepath.Join(dateDir, header.SessionID+".index.json"),
		logger:    logger.With().Str("component", "atif.writer").Str("session_id", header.SessionID).Logger(),
		metrics:   metrics,
	}
}

// Initialize creates the date directory, writes the header line, and writes
// an initial in_progress index. It fails after Close and on repeat calls.
func (w *StreamWriter) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer for session '%s' is closed", w.header.SessionID)
	}
	if w.initialized {
		return fmt.Errorf("writer for session '%s' is already initialized", w.header.SessionID)
	}

	if err := os.MkdirAll(w.dateDir, 0755); err != nil {
		return fmt.Errorf("failed to create date directory '%s': %w", w.dateDir, err)
	}

	line, err := json.Marshal(w.header)
	if err != nil {
		return fmt.Errorf("failed to marshal session header: %w", err)
	}
	if err := w.appendLine(line); err != nil {
		return err
	}

	if err := w.updateIndexLocked(StatusInProgress, nil); err != nil {
		return err
	}

	w.initialized = true
	w.logger.Info().Str("path", w.jsonlPath).Msg("session stream initialized")
	return nil
}

// WriteStep appends one step line and rewrites the index checkpoint.
func (w *StreamWriter) WriteStep(step Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		return fmt.Errorf("writer for session '%s' is not initialized", w.header.SessionID)
	}
	if w.closed {
		return fmt.Errorf("writer for session '%s' is closed", w.header.SessionID)
	}

	line, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step %d: %w", step.StepID, err)
	}
	if err := w.appendLine(line); err != nil {
		return err
	}

	w.stepCount++
	if step.StepID > w.maxStepID {
		w.maxStepID = step.StepID
	}

	if err := w.updateIndexLocked(StatusInProgress, nil); err != nil {
		return err
	}

	w.metrics.IncATIFStep()
	w.logger.Debug().Int("step_id", step.StepID).Str("source", string(step.Source)).Msg("step written")
	return nil
}

// Close writes the final index with the supplied metrics and terminal status,
// then rejects further writes. Closing twice is a no-op.
func (w *StreamWriter) Close(finalMetrics *FinalMetrics, status Status) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.updateIndexLocked(status, finalMetrics); err != nil {
		return err
	}
	w.closed = true

	w.logger.Info().
		Int("steps", w.stepCount).
		Str("status", string(status)).
		Msg("session stream closed")
	return nil
}

// Paths returns the JSONL and index locations.
func (w *StreamWriter) Paths() Paths {
	return Paths{JSONL: w.jsonlPath, Index: w.indexPath}
}

// SessionID returns the session this writer owns.
func (w *StreamWriter) SessionID() string { return w.header.SessionID }

// appendLine appends data + "\n" to the JSONL, recreating the date directory
// and retrying once when it has vanished.
func (w *StreamWriter) appendLine(data []byte) error {
	err := appendFile(w.jsonlPath, data)
	if err == nil {
		return nil
	}
	if mkErr := os.MkdirAll(w.dateDir, 0755); mkErr != nil {
		return fmt.Errorf("failed to recreate date directory '%s': %w", w.dateDir, mkErr)
	}
	if err := appendFile(w.jsonlPath, data); err != nil {
		return fmt.Errorf("failed to append to '%s': %w", w.jsonlPath, err)
	}
	w.logger.Warn().Str("dir", w.dateDir).Msg("date directory recreated mid-session")
	return nil
}

// updateIndexLocked rewrites the index via a unique temp file and rename.
// Caller holds the mutex.
func (w *StreamWriter) updateIndexLocked(status Status, finalMetrics *FinalMetrics) error {
	idx := Index{
		SessionID: w.header.SessionID,
		Agent:     w.header.Agent,
		Checkpoint: Checkpoint{
			StepID:             w.maxStepID,
			Timestamp:          time.Now().UTC().Format(time.RFC3339),
			CompletedStepCount: w.stepCount,
		},
		Status:          status,
		FinalMetrics:    finalMetrics,
		ParentSessionID: w.header.ParentSessionID,
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := workspace.WriteFileAtomicMkdir(w.indexPath, data); err != nil {
		return fmt.Errorf("failed to update index for session '%s': %w", w.header.SessionID, err)
	}
	return nil
}

func appendFile(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
