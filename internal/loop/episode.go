package loop

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Episode statuses.
const (
	EpisodeSuccess = "success"
	EpisodePartial = "partial"
	EpisodeFailure = "failure"
)

// TaskResult is one task's outcome within an episode. Error carries a
// harness-level failure; Detail carries the check script's complaint when the
// agent simply did not solve the task.
type TaskResult struct {
	TaskID     string `json:"task_id"`
	Passed     bool   `json:"passed"`
	Turns      int    `json:"turns"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary aggregates an episode's task results. Passed, Failed, Timeout, and
// Error partition Total.
type Summary struct {
	Total           int     `json:"total"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Timeout         int     `json:"timeout"`
	Error           int     `json:"error"`
	PassRate        float64 `json:"pass_rate"`
	AvgTurns        float64 `json:"avg_turns"`
	AvgTokens       float64 `json:"avg_tokens"`
	TotalDurationMS int64   `json:"total_duration_ms"`
}

// Episode records one subset run. The loop runner stamps RunID and
// ResultsPath when it persists the document under gym/<run_id>/.
type Episode struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Iteration    int          `json:"iteration"`
	Subset       string       `json:"subset"`
	Model        string       `json:"model"`
	SuiteVersion string       `json:"suite_version"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Status       string       `json:"status"` // success, partial, failure
	Summary      Summary      `json:"summary"`
	ResultsPath  string       `json:"results_path,omitempty"`
	Results      []TaskResult `json:"results,omitempty"`
}

// NewEpisodeID returns a sortable episode identifier.
func NewEpisodeID() string {
	return "ep-" + ulid.Make().String()
}

// summarize folds task results into episode totals.
func summarize(results []TaskResult, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), TotalDurationMS: elapsed.Milliseconds()}
	var turns int
	for _, tr := range results {
		turns += tr.Turns
		switch {
		case tr.Passed:
			s.Passed++
		case tr.Error != "":
			s.Error++
		case strings.Contains(tr.Detail, "timed out"):
			s.Timeout++
		default:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
		s.AvgTurns = float64(turns) / float64(s.Total)
	}
	return s
}

// statusFor grades an episode: all passed, none passed, or something between.
func statusFor(s Summary) string {
	switch {
	case s.Total > 0 && s.Passed == s.Total:
		return EpisodeSuccess
	case s.Passed == 0:
		return EpisodeFailure
	default:
		return EpisodePartial
	}
}
