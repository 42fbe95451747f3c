package loop

import "fmt"

// Reason classifies loop-runner outcomes. The two limit reasons describe a
// clean completion, not a failure; they appear in the run-complete event, and
// Run returns nil for them.
type Reason string

const (
	ReasonConfigInvalid  Reason = "config_invalid"
	ReasonStateLoad      Reason = "state_load_failed"
	ReasonStateSave      Reason = "state_save_failed"
	ReasonIteration      Reason = "iteration_failed"
	ReasonTimeLimit      Reason = "time_limit_exceeded"
	ReasonIterationLimit Reason = "iteration_limit_exceeded"
)

// Error is a classified loop-runner failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("loop runner: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("loop runner: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }
