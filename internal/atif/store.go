package atif

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/openagents/gym/internal/workspace"
)

// StoreReason classifies trajectory store failures.
type StoreReason string

const (
	StoreNotFound         StoreReason = "not_found"
	StoreParseError       StoreReason = "parse_error"
	StoreWriteError       StoreReason = "write_error"
	StoreValidationFailed StoreReason = "validation_failed"
	StoreInvalidPath      StoreReason = "invalid_path"
)

// StoreError reports a trajectory store failure.
type StoreError struct {
	Reason    StoreReason
	SessionID string
	Cause     error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("trajectory store: %s for session '%s': %v", e.Reason, e.SessionID, e.Cause)
	}
	return fmt.Sprintf("trajectory store: %s for session '%s'", e.Reason, e.SessionID)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// SessionMetadata summarizes one stored trajectory without exposing steps.
type SessionMetadata struct {
	SessionID       string   `json:"session_id"`
	AgentName       string   `json:"agent_name"`
	ParentSessionID string   `json:"parent_session_id,omitempty"`
	ChildSessionIDs []string `json:"child_session_ids,omitempty"`
	StepCount       int      `json:"step_count"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	Path            string   `json:"path"`
}

// Store persists full trajectories as <baseDir>/<YYYYMMDD>/<session>.atif.json.
//
// A lazy path cache maps session IDs to absolute paths; on a miss the store
// probes the date folder the session ID implies, then scans every date
// folder. Saves are atomic (temp + rename) and validated when the store is
// constructed with validation on.
type Store struct {
	baseDir  string
	validate bool
	logger   zerolog.Logger

	mu        sync.RWMutex
	pathCache map[string]string
}

// NewStore creates a trajectory store rooted at baseDir.
func NewStore(baseDir string, validate bool, logger zerolog.Logger) *Store {
	return &Store{
		baseDir:   baseDir,
		validate:  validate,
		logger:    logger.With().Str("component", "atif.store").Logger(),
		pathCache: make(map[string]string),
	}
}

// Save writes a full trajectory, validating first when configured. Returns
// the absolute path written.
func (s *Store) Save(t *Trajectory) (string, error) {
	if !IsValidSessionID(t.SessionID) {
		return "", &StoreError{Reason: StoreInvalidPath, SessionID: t.SessionID,
			Cause: fmt.Errorf("session id does not match the session-YYYY-MM-DDTHH-MM-SS-<rand> format")}
	}
	if s.validate {
		if err := Validate(t); err != nil {
			return "", &StoreError{Reason: StoreValidationFailed, SessionID: t.SessionID, Cause: err}
		}
	}

	dateDir := filepath.Join(s.baseDir, DateFolderForSession(t.SessionID))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", &StoreError{Reason: StoreWriteError, SessionID: t.SessionID, Cause: err}
	}

	data, err := t.ToJSON()
	if err != nil {
		return "", &StoreError{Reason: StoreWriteError, SessionID: t.SessionID, Cause: err}
	}

	path := filepath.Join(dateDir, t.SessionID+".atif.json")
	if err := workspace.WriteFileAtomic(path, data); err != nil {
		return "", &StoreError{Reason: StoreWriteError, SessionID: t.SessionID, Cause: err}
	}

	s.mu.Lock()
	s.pathCache[t.SessionID] = path
	s.mu.Unlock()

	s.logger.Debug().Str("session_id", t.SessionID).Str("path", path).Int("steps", len(t.Steps)).Msg("trajectory saved")
	return path, nil
}

// Load reads a full trajectory by session ID.
func (s *Store) Load(sessionID string) (*Trajectory, error) {
	path, err := s.findPath(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StoreError{Reason: StoreNotFound, SessionID: sessionID, Cause: err}
	}
	var t Trajectory
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &StoreError{Reason: StoreParseError, SessionID: sessionID, Cause: err}
	}
	return &t, nil
}

// List returns every stored session ID, sorted.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.walkStored(func(sessionID, _ string, _ []byte) error {
		ids = append(ids, sessionID)
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// ListForDate returns session IDs stored under one YYYYMMDD folder, sorted.
func (s *Store) ListForDate(date string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list date folder '%s': %w", date, err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := sessionIDFromFile(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Metadata extracts the parent link, child refs, step count, and total cost
// from a stored trajectory without unmarshalling the whole document.
func (s *Store) Metadata(sessionID string) (*SessionMetadata, error) {
	path, err := s.findPath(sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &StoreError{Reason: StoreNotFound, SessionID: sessionID, Cause: err}
	}
	if !gjson.ValidBytes(raw) {
		return nil, &StoreError{Reason: StoreParseError, SessionID: sessionID,
			Cause: fmt.Errorf("file is not valid JSON")}
	}

	meta := &SessionMetadata{
		SessionID:       sessionID,
		AgentName:       gjson.GetBytes(raw, "agent.name").String(),
		ParentSessionID: gjson.GetBytes(raw, "parent_session_id").String(),
		StepCount:       int(gjson.GetBytes(raw, "steps.#").Int()),
		TotalCostUSD:    gjson.GetBytes(raw, "final_metrics.total_cost_usd").Float(),
		Path:            path,
	}
	meta.ChildSessionIDs = childSessionIDs(raw)
	return meta, nil
}

// FindChildren returns the IDs of stored sessions whose parent_session_id is
// parentID, sorted.
func (s *Store) FindChildren(parentID string) ([]string, error) {
	var children []string
	err := s.walkStored(func(sessionID, _ string, raw []byte) error {
		if gjson.GetBytes(raw, "parent_session_id").String() == parentID {
			children = append(children, sessionID)
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	sort.Strings(children)
	return children, nil
}

// GetTree walks subagent references breadth-first from root and returns every
// reachable session ID, root first. A visited set keeps cyclic references
// (which are bugs upstream) from hanging the traversal.
func (s *Store) GetTree(rootID string) ([]string, error) {
	if _, err := s.findPath(rootID); err != nil {
		return nil, err
	}

	visited := map[string]bool{rootID: true}
	order := []string{rootID}
	queue := []string{rootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		meta, err := s.Metadata(current)
		if err != nil {
			// A dangling ref is not fatal to the rest of the tree.
			s.logger.Warn().Str("session_id", current).Err(err).Msg("unreadable node in trajectory tree")
			continue
		}
		for _, child := range meta.ChildSessionIDs {
			if visited[child] {
				continue
			}
			visited[child] = true
			order = append(order, child)
			queue = append(queue, child)
		}
	}
	return order, nil
}

// FindByAgent returns the IDs of sessions recorded by the named agent, sorted.
func (s *Store) FindByAgent(agentName string) ([]string, error) {
	var ids []string
	err := s.walkStored(func(sessionID, _ string, raw []byte) error {
		if gjson.GetBytes(raw, "agent.name").String() == agentName {
			ids = append(ids, sessionID)
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a stored trajectory.
func (s *Store) Delete(sessionID string) error {
	path, err := s.findPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return &StoreError{Reason: StoreWriteError, SessionID: sessionID, Cause: err}
	}
	s.mu.Lock()
	delete(s.pathCache, sessionID)
	s.mu.Unlock()
	return nil
}

// DeleteSessionFiles removes the stored trajectory plus the session's JSONL
// stream and index, for pruning.
func (s *Store) DeleteSessionFiles(sessionID string) error {
	if err := s.Delete(sessionID); err != nil {
		return err
	}
	dateDir := filepath.Join(s.baseDir, DateFolderForSession(sessionID))
	for _, suffix := range []string{".atif.jsonl", ".index.json"} {
		p := filepath.Join(dateDir, sessionID+suffix)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return &StoreError{Reason: StoreWriteError, SessionID: sessionID, Cause: err}
		}
	}
	return nil
}

// findPath resolves a session ID to its file, checking the cache, then the
// expected date folder, then every date folder.
func (s *Store) findPath(sessionID string) (string, error) {
	if !IsValidSessionID(sessionID) {
		return "", &StoreError{Reason: StoreInvalidPath, SessionID: sessionID,
			Cause: fmt.Errorf("session id does not match the expected format")}
	}

	s.mu.RLock()
	cached, ok := s.pathCache[sessionID]
	s.mu.RUnlock()
	if ok {
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
		s.mu.Lock()
		delete(s.pathCache, sessionID)
		s.mu.Unlock()
	}

	probe := filepath.Join(s.baseDir, DateFolderForSession(sessionID), sessionID+".atif.json")
	if _, err := os.Stat(probe); err == nil {
		s.cachePath(sessionID, probe)
		return probe, nil
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return "", &StoreError{Reason: StoreNotFound, SessionID: sessionID, Cause: err}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(s.baseDir, e.Name(), sessionID+".atif.json")
		if _, err := os.Stat(candidate); err == nil {
			s.cachePath(sessionID, candidate)
			return candidate, nil
		}
	}
	return "", &StoreError{Reason: StoreNotFound, SessionID: sessionID}
}

func (s *Store) cachePath(sessionID, path string) {
	s.mu.Lock()
	s.pathCache[sessionID] = path
	s.mu.Unlock()
}

// walkStored visits every stored trajectory. When withContent is true the raw
// file bytes are passed to fn.
func (s *Store) walkStored(fn func(sessionID, path string, raw []byte) error, withContent bool) error {
	dates, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list trajectory base dir: %w", err)
	}
	for _, dateEntry := range dates {
		if !dateEntry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.baseDir, dateEntry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			id, ok := sessionIDFromFile(f.Name())
			if !ok {
				continue
			}
			path := filepath.Join(s.baseDir, dateEntry.Name(), f.Name())
			var raw []byte
			if withContent {
				raw, err = os.ReadFile(path)
				if err != nil {
					continue
				}
			}
			if err := fn(id, path, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// childSessionIDs flattens subagent refs across all observation results.
func childSessionIDs(raw []byte) []string {
	var children []string
	seen := make(map[string]bool)
	for _, step := range gjson.GetBytes(raw, "steps").Array() {
		for _, result := range step.Get("observation.results").Array() {
			for _, ref := range result.Get("subagent_trajectory_ref").Array() {
				id := ref.Get("session_id").String()
				if id != "" && !seen[id] {
					seen[id] = true
					children = append(children, id)
				}
			}
		}
	}
	return children
}

func sessionIDFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, ".atif.json") || strings.HasSuffix(name, ".atif.jsonl") {
		return "", false
	}
	return strings.TrimSuffix(name, ".atif.json"), true
}
