package atif

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ValidationReason classifies why a trajectory was rejected.
type ValidationReason string

const (
	ReasonInvalidStepSequence     ValidationReason = "invalid_step_sequence"
	ReasonInvalidTimestamp        ValidationReason = "invalid_timestamp"
	ReasonInvalidSource           ValidationReason = "invalid_source"
	ReasonOrphanToolReference     ValidationReason = "orphan_tool_reference"
	ReasonAgentOnlyFieldOnNonAgent ValidationReason = "agent_only_field_on_non_agent"
	ReasonMissingRequiredField    ValidationReason = "missing_required_field"
	ReasonInvalidSchemaVersion    ValidationReason = "invalid_schema_version"
)

// ValidationError reports one invariant violation. StepID is 0 for
// header-level violations.
type ValidationError struct {
	Reason ValidationReason
	StepID int
	Detail string
}

func (e *ValidationError) Error() string {
	if e.StepID > 0 {
		return fmt.Sprintf("trajectory validation failed at step %d: %s: %s", e.StepID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("trajectory validation failed: %s: %s", e.Reason, e.Detail)
}

// Validate checks the trajectory invariants and returns the first violation.
// A final_metrics.total_steps mismatch is tolerated with a warning; the
// counter is advisory and historical files disagree on it.
func Validate(t *Trajectory) error {
	errs := validate(t, true)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateAll collects every invariant violation instead of stopping at the
// first.
func ValidateAll(t *Trajectory) []error {
	return validate(t, false)
}

func validate(t *Trajectory, firstOnly bool) []error {
	var errs []error
	add := func(e *ValidationError) bool {
		errs = append(errs, e)
		return firstOnly
	}

	if t.SchemaVersion != SchemaVersion {
		if add(&ValidationError{Reason: ReasonInvalidSchemaVersion,
			Detail: fmt.Sprintf("got '%s', want '%s'", t.SchemaVersion, SchemaVersion)}) {
			return errs
		}
	}
	if t.SessionID == "" {
		if add(&ValidationError{Reason: ReasonMissingRequiredField, Detail: "session_id is empty"}) {
			return errs
		}
	}
	if t.Agent.Name == "" {
		if add(&ValidationError{Reason: ReasonMissingRequiredField, Detail: "agent.name is empty"}) {
			return errs
		}
	}
	if t.CreatedAt == "" {
		if add(&ValidationError{Reason: ReasonMissingRequiredField, Detail: "created_at is empty"}) {
			return errs
		}
	}

	// Tool-call IDs seen so far. An observation may reference a call from any
	// earlier step or from its own step: within one step the calls precede
	// the observation in event order.
	seenCalls := make(map[string]bool)

	for i := range t.Steps {
		step := &t.Steps[i]

		if step.StepID != i+1 {
			if add(&ValidationError{Reason: ReasonInvalidStepSequence, StepID: step.StepID,
				Detail: fmt.Sprintf("step at position %d has step_id %d, want %d", i, step.StepID, i+1)}) {
				return errs
			}
		}

		if !validTimestamp(step.Timestamp) {
			if add(&ValidationError{Reason: ReasonInvalidTimestamp, StepID: step.StepID,
				Detail: fmt.Sprintf("timestamp '%s' is not ISO 8601 with a 'T' separator", step.Timestamp)}) {
				return errs
			}
		}

		switch step.Source {
		case StepSourceUser, StepSourceAgent, StepSourceSystem:
		default:
			if add(&ValidationError{Reason: ReasonInvalidSource, StepID: step.StepID,
				Detail: fmt.Sprintf("source '%s' is not one of user, agent, system", step.Source)}) {
				return errs
			}
		}

		if step.Source != StepSourceAgent {
			if step.ModelName != "" {
				if add(&ValidationError{Reason: ReasonAgentOnlyFieldOnNonAgent, StepID: step.StepID,
					Detail: fmt.Sprintf("model_name set on %s step", step.Source)}) {
					return errs
				}
			}
			if step.ReasoningContent != "" {
				if add(&ValidationError{Reason: ReasonAgentOnlyFieldOnNonAgent, StepID: step.StepID,
					Detail: fmt.Sprintf("reasoning_content set on %s step", step.Source)}) {
					return errs
				}
			}
		}

		for _, tc := range step.ToolCalls {
			if tc.ToolCallID != "" {
				seenCalls[tc.ToolCallID] = true
			}
		}

		if step.Observation != nil {
			for _, result := range step.Observation.Results {
				if result.SourceCallID == "" {
					continue
				}
				if !seenCalls[result.SourceCallID] {
					if add(&ValidationError{Reason: ReasonOrphanToolReference, StepID: step.StepID,
						Detail: fmt.Sprintf("source_call_id '%s' matches no earlier tool_call_id", result.SourceCallID)}) {
						return errs
					}
				}
			}
		}
	}

	if t.FinalMetrics != nil && t.FinalMetrics.TotalSteps != 0 && t.FinalMetrics.TotalSteps != len(t.Steps) {
		log.Warn().
			Str("session_id", t.SessionID).
			Int("total_steps", t.FinalMetrics.TotalSteps).
			Int("actual_steps", len(t.Steps)).
			Msg("final_metrics.total_steps does not match step count")
	}

	return errs
}

// validTimestamp requires a parseable ISO 8601 value with a literal 'T'
// separator.
func validTimestamp(ts string) bool {
	if !strings.Contains(ts, "T") {
		return false
	}
	if _, err := time.Parse(time.RFC3339, ts); err == nil {
		return true
	}
	// Fractional seconds without a zone also appear in the wild.
	if _, err := time.Parse("2006-01-02T15:04:05", ts); err == nil {
		return true
	}
	if _, err := time.Parse("2006-01-02T15:04:05.999999999", ts); err == nil {
		return true
	}
	return false
}
