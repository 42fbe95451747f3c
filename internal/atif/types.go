// Package atif implements the Agent Trajectory Interchange Format (v1.4):
// typed steps, a crash-safe streaming writer, a validating store, and
// trajectory-tree lookups.
//
// DESIGN: A trajectory is a header plus an ordered sequence of steps. Each
// session is owned by exactly one writer; the store has shared read access.
// On disk a session is three files under a YYYYMMDD folder:
//   - <session>.atif.jsonl   header line + one line per step (append-only)
//   - <session>.index.json   checkpoint + status, atomic-rename updates
//   - <session>.atif.json    full trajectory written by the store
//
// TYPES:
//   - Trajectory:   Root object containing the complete interaction history
//   - Step:         Single turn (user message, agent response, or system)
//   - ToolCall:     Function/tool invocation by the agent
//   - Observation:  Environment feedback after actions
//   - Metrics:      Token usage and cost data per step
//   - FinalMetrics: Aggregate statistics for the trajectory
//   - Agent:        Agent configuration metadata
package atif

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the only schema accepted by the validator.
const SchemaVersion = "ATIF-v1.4"

// =============================================================================
// TRAJECTORY - Root object
// =============================================================================

// Trajectory represents a complete agent interaction session.
type Trajectory struct {
	SchemaVersion   string        `json:"schema_version"`              // always "ATIF-v1.4"
	SessionID       string        `json:"session_id"`                  // session-YYYY-MM-DDTHH-MM-SS-<rand>
	Agent           Agent         `json:"agent"`                       // agent configuration
	ParentSessionID string        `json:"parent_session_id,omitempty"` // spawning session, if any
	CreatedAt       string        `json:"created_at"`                  // ISO 8601
	Steps           []Step        `json:"steps"`                       // interaction history
	FinalMetrics    *FinalMetrics `json:"final_metrics,omitempty"`     // aggregate statistics
}

// NewTrajectory creates an empty trajectory with a fresh timestamp.
func NewTrajectory(sessionID string, agent Agent) *Trajectory {
	return &Trajectory{
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Agent:         agent,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Steps:         make([]Step, 0),
	}
}

// AddStep appends a step, assigning the next sequential step_id and stamping
// the current time when the step carries none.
func (t *Trajectory) AddStep(step Step) {
	step.StepID = len(t.Steps) + 1
	if step.Timestamp == "" {
		step.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	t.Steps = append(t.Steps, step)
}

// ToJSON serializes the trajectory with indentation.
func (t *Trajectory) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ComputeFinalMetrics aggregates per-step metrics into FinalMetrics.
func (t *Trajectory) ComputeFinalMetrics() {
	var fm FinalMetrics
	fm.TotalSteps = len(t.Steps)

	for _, step := range t.Steps {
		if step.Metrics != nil {
			fm.TotalPromptTokens += step.Metrics.PromptTokens
			fm.TotalCompletionTokens += step.Metrics.CompletionTokens
			fm.TotalCachedTokens += step.Metrics.CachedTokens
			fm.TotalCostUSD += step.Metrics.CostUSD
		}
	}

	t.FinalMetrics = &fm
}

// =============================================================================
// AGENT
// =============================================================================

// Agent identifies the agent system that produced the trajectory.
type Agent struct {
	Name      string `json:"name"`                 // e.g. "openagents"
	Version   string `json:"version"`              // agent version
	ModelName string `json:"model_name,omitempty"` // default LLM model
}

// =============================================================================
// STEP - Single interaction turn
// =============================================================================

// StepSource identifies who originated a step.
type StepSource string

const (
	StepSourceUser   StepSource = "user"
	StepSourceAgent  StepSource = "agent"
	StepSourceSystem StepSource = "system"
)

// Step represents a single turn in the trajectory. ModelName,
// ReasoningContent, and Metrics are valid only on agent steps.
type Step struct {
	StepID           int          `json:"step_id"`                     // 1-based, strictly sequential
	Timestamp        string       `json:"timestamp"`                   // ISO 8601 with a literal 'T'
	Source           StepSource   `json:"source"`                      // user, agent, system
	Message          string       `json:"message"`                     // dialogue text
	ModelName        string       `json:"model_name,omitempty"`        // agent only
	ReasoningContent string       `json:"reasoning_content,omitempty"` // agent only
	ToolCalls        []ToolCall   `json:"tool_calls,omitempty"`        // agent actions
	Observation      *Observation `json:"observation,omitempty"`       // environment feedback
	Metrics          *Metrics     `json:"metrics,omitempty"`           // agent only
}

// NewUserStep creates a step for a user message.
func NewUserStep(message string) Step {
	return Step{
		Source:    StepSourceUser,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   message,
	}
}

// NewAgentStep creates a step for an agent response.
func NewAgentStep(message string, model string) Step {
	return Step{
		Source:    StepSourceAgent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   message,
		ModelName: model,
	}
}

// NewSystemStep creates a step for a system message or observation.
func NewSystemStep(message string) Step {
	return Step{
		Source:    StepSourceSystem,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   message,
	}
}

// =============================================================================
// TOOL CALLS AND OBSERVATIONS
// =============================================================================

// ToolCall represents a function invocation produced by the agent.
type ToolCall struct {
	ToolCallID   string         `json:"tool_call_id"`  // unique within the trajectory
	FunctionName string         `json:"function_name"` // tool name
	Arguments    map[string]any `json:"arguments"`     // parsed arguments
}

// Observation records results from tool executions or system events.
type Observation struct {
	Results []ObservationResult `json:"results"`
}

// ObservationResult is the outcome of a single tool call or action.
type ObservationResult struct {
	SourceCallID          string                  `json:"source_call_id,omitempty"`          // earlier tool_call_id
	Content               string                  `json:"content,omitempty"`                 // output text
	SubagentTrajectoryRef []SubagentTrajectoryRef `json:"subagent_trajectory_ref,omitempty"` // delegated sessions
}

// SubagentTrajectoryRef references a delegated subagent trajectory.
type SubagentTrajectoryRef struct {
	SessionID      string `json:"session_id"`
	TrajectoryPath string `json:"trajectory_path,omitempty"` // path hint only
}

// =============================================================================
// METRICS
// =============================================================================

// Metrics contains LLM usage data for a single agent step.
type Metrics struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CachedTokens     int     `json:"cached_tokens,omitempty"` // cache hits, subset of prompt
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// FinalMetrics provides aggregate statistics for the entire trajectory.
type FinalMetrics struct {
	TotalPromptTokens     int     `json:"total_prompt_tokens,omitempty"`
	TotalCompletionTokens int     `json:"total_completion_tokens,omitempty"`
	TotalCachedTokens     int     `json:"total_cached_tokens,omitempty"`
	TotalCostUSD          float64 `json:"total_cost_usd,omitempty"`
	TotalSteps            int     `json:"total_steps,omitempty"`
}

// =============================================================================
// SESSION STATUS AND INDEX
// =============================================================================

// Status is the lifecycle state recorded in a session index.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Checkpoint records writer progress inside an index.
type Checkpoint struct {
	StepID             int    `json:"step_id"`   // highest step id written
	Timestamp          string `json:"timestamp"` // time of the last index update
	CompletedStepCount int    `json:"completed_step_count"`
}

// Index is the small per-session JSON document updated after every step.
type Index struct {
	SessionID       string        `json:"session_id"`
	Agent           Agent         `json:"agent"`
	Checkpoint      Checkpoint    `json:"checkpoint"`
	Status          Status        `json:"status"`
	FinalMetrics    *FinalMetrics `json:"final_metrics,omitempty"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
}

// Header is the first JSONL line of a streamed session.
type Header struct {
	HeaderMarker    bool   `json:"__header__"` // always true
	SchemaVersion   string `json:"schema_version"`
	SessionID       string `json:"session_id"`
	Agent           Agent  `json:"agent"`
	CreatedAt       string `json:"created_at"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
}
