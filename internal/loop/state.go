package loop

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/openagents/gym/internal/workspace"
)

// Status is the loop lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is the loop checkpoint, persisted atomically after every iteration.
// Iteration counts iterations on the current subset and resets to zero when
// the loop advances; SubsetIterations keeps the lifetime count per subset.
type State struct {
	RunID              string             `json:"run_id"`
	Status             Status             `json:"status"`
	CurrentSubset      string             `json:"current_subset"`
	Iteration          int                `json:"iteration"`
	TotalIterations    int                `json:"total_iterations"`
	SubsetIterations   map[string]int     `json:"subset_iterations"`
	SubsetSuccessRates map[string]float64 `json:"subset_success_rates"` // latest episode rate per subset
	BestSuccessRates   map[string]float64 `json:"best_success_rates"`
	StartedAt          time.Time          `json:"started_at"`
	LastUpdatedAt      time.Time          `json:"last_updated_at"`
	TotalDurationMS    int64              `json:"total_duration_ms"` // cumulative across resumes
	LastEpisodeID      string             `json:"last_episode_id,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// loadState reads a checkpoint. A missing file is (nil, nil), not an error.
func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Reason: ReasonStateLoad, Err: err}
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &Error{Reason: ReasonStateLoad, Err: err}
	}
	if st.SubsetIterations == nil {
		st.SubsetIterations = make(map[string]int)
	}
	if st.SubsetSuccessRates == nil {
		st.SubsetSuccessRates = make(map[string]float64)
	}
	if st.BestSuccessRates == nil {
		st.BestSuccessRates = make(map[string]float64)
	}
	return &st, nil
}

// saveState writes the checkpoint via temp-and-rename, stamping the update
// time.
func saveState(path string, st *State) error {
	st.LastUpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &Error{Reason: ReasonStateSave, Err: err}
	}
	if err := workspace.WriteFileAtomicMkdir(path, data); err != nil {
		return &Error{Reason: ReasonStateSave, Err: err}
	}
	return nil
}
