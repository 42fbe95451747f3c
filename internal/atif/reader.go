package atif

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadJSONL reconstructs a trajectory from a streamed session log. A trailing
// partial line (the tail of a crashed write) is skipped; a malformed line
// anywhere else is an error.
func ReadJSONL(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session log '%s': %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	// Drop the empty tail a final newline produces.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("session log '%s' is empty", path)
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil || !header.HeaderMarker {
		return nil, fmt.Errorf("session log '%s' has no valid header line", path)
	}

	t := &Trajectory{
		SchemaVersion:   header.SchemaVersion,
		SessionID:       header.SessionID,
		Agent:           header.Agent,
		CreatedAt:       header.CreatedAt,
		ParentSessionID: header.ParentSessionID,
		Steps:           make([]Step, 0, len(lines)-1),
	}

	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var step Step
		if err := json.Unmarshal([]byte(line), &step); err != nil {
			if i == len(lines)-2 {
				// Trailing partial line from an interrupted append.
				break
			}
			return nil, fmt.Errorf("session log '%s' line %d is malformed: %w", path, i+2, err)
		}
		t.Steps = append(t.Steps, step)
	}

	return t, nil
}

// ReadIndex loads a session index document.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index '%s': %w", path, err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index '%s': %w", path, err)
	}
	return &idx, nil
}
