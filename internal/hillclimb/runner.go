package hillclimb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/fmbridge"
	"github.com/openagents/gym/internal/sandbox"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

const (
	// commandTimeout bounds one agent-issued command; tasks are small, a
	// stuck command should not eat the turn budget in wall time.
	commandTimeout = 60 * time.Second

	// scriptTimeout bounds the setup and check scripts.
	scriptTimeout = 30 * time.Second

	// maxObservationChars caps tool output recorded per step.
	maxObservationChars = 2000
)

// workerTools is the tool surface exposed to the on-device worker.
var workerTools = []string{"write_file", "read_file", "run_command", "edit_file"}

// SkillLister supplies learned skills for prompting. *store.Store satisfies
// it.
type SkillLister interface {
	Active(ctx context.Context) ([]*store.Skill, error)
}

// WorkerRunner is the production TaskRunner: it drives the on-device worker
// model turn by turn inside a scratch directory, applies the parsed tool
// calls through the sandbox and host file ops, records the exchange as an
// ATIF trajectory, and judges the result with the task's check script.
type WorkerRunner struct {
	worker  *fmbridge.Worker
	exec    sandbox.Executor
	skills  SkillLister
	trajDir string
	agent   atif.Agent
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// WorkerRunnerOptions configures a WorkerRunner.
type WorkerRunnerOptions struct {
	TrajectoriesDir string
	Agent           atif.Agent
	Skills          SkillLister // optional; enables use_skills configs
	Metrics         *telemetry.Metrics
}

// NewWorkerRunner wires a worker and a sandbox into a TaskRunner.
func NewWorkerRunner(worker *fmbridge.Worker, exec sandbox.Executor, opts WorkerRunnerOptions, logger zerolog.Logger) *WorkerRunner {
	if opts.Agent.Name == "" {
		opts.Agent.Name = "openagents"
	}
	return &WorkerRunner{
		worker:  worker,
		exec:    exec,
		skills:  opts.Skills,
		trajDir: opts.TrajectoriesDir,
		agent:   opts.Agent,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "worker-runner").Logger(),
	}
}

// RunTask runs one benchmark task under the given config and reports the
// outcome. Transport failures abort the run; everything the agent does
// wrong is a result, not an error.
func (r *WorkerRunner) RunTask(ctx context.Context, taskID string, cfg ConfigInput) (*TaskRunResult, error) {
	task, ok := decompose.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", taskID)
	}

	maxTurns := task.MaxTurns
	if cfg.MaxTurnsOverride != nil && *cfg.MaxTurnsOverride > 0 {
		maxTurns = *cfg.MaxTurnsOverride
	}

	dir, err := os.MkdirTemp("", "gym-task-"+taskID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating task directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if task.Setup != "" {
		res, err := r.exec.Execute(ctx, sandbox.Spec{Script: task.Setup, Workdir: dir, Timeout: scriptTimeout})
		if err != nil {
			return nil, fmt.Errorf("task setup: %w", err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("task setup exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	writer := atif.NewStreamWriter(r.trajDir, atif.Header{
		SessionID: atif.NewSessionID(time.Now()),
		Agent:     r.agent,
	}, r.logger, r.metrics)
	if err := writer.Initialize(); err != nil {
		return nil, fmt.Errorf("starting trajectory: %w", err)
	}

	instruction := task.Description
	if cfg.Hint != "" {
		instruction += " Hint: " + cfg.Hint
	}
	stepID := 1
	userStep := atif.NewUserStep(instruction)
	userStep.StepID = stepID
	if err := writer.WriteStep(userStep); err != nil {
		return nil, err
	}

	contextNote := r.contextNote(ctx, cfg)

	var (
		passed      bool
		checkDetail string
		toolLog     []string
		prevSummary string
	)
	turns := 0
	for turn := 1; turn <= maxTurns; turn++ {
		if ctx.Err() != nil {
			_ = writer.Close(&atif.FinalMetrics{TotalSteps: stepID}, atif.StatusFailed)
			return nil, ctx.Err()
		}
		turns = turn

		call, raw, err := r.worker.Step(ctx, fmbridge.WorkerInput{
			Tools:       workerTools,
			Action:      task.Description,
			Context:     contextNote,
			PrevSummary: prevSummary,
		})
		if err != nil {
			var perr *fmbridge.ToolParseError
			if !errors.As(err, &perr) {
				_ = writer.Close(&atif.FinalMetrics{TotalSteps: stepID}, atif.StatusFailed)
				return nil, fmt.Errorf("worker turn %d: %w", turn, err)
			}
			stepID++
			step := atif.NewAgentStep(raw, "")
			step.StepID = stepID
			step.Observation = &atif.Observation{Results: []atif.ObservationResult{{
				Content: "tool call could not be parsed: " + string(perr.Reason),
			}}}
			if werr := writer.WriteStep(step); werr != nil {
				r.logger.Warn().Err(werr).Msg("recording parse-failure step")
			}
			prevSummary = "last reply was not a valid tool call"
			continue
		}

		obs := r.applyTool(ctx, dir, call)

		stepID++
		step := atif.NewAgentStep(raw, "")
		step.StepID = stepID
		step.ToolCalls = []atif.ToolCall{{
			ToolCallID:   fmt.Sprintf("call-%d", turn),
			FunctionName: call.Name,
			Arguments:    call.Arguments,
		}}
		step.Observation = &atif.Observation{Results: []atif.ObservationResult{{
			SourceCallID: fmt.Sprintf("call-%d", turn),
			Content:      truncateObservation(obs),
		}}}
		if werr := writer.WriteStep(step); werr != nil {
			r.logger.Warn().Err(werr).Msg("recording tool step")
		}

		toolLog = append(toolLog, toolSummary(call))
		prevSummary = toolSummary(call) + ": " + firstLine(obs)

		passed, checkDetail = r.runCheck(ctx, task, dir)
		if passed {
			break
		}
	}

	stepID++
	verdict := "task check failed"
	if passed {
		verdict = "task check passed"
	}
	final := atif.NewSystemStep(verdict)
	final.StepID = stepID
	if werr := writer.WriteStep(final); werr != nil {
		r.logger.Warn().Err(werr).Msg("recording verdict step")
	}
	if err := writer.Close(&atif.FinalMetrics{TotalSteps: stepID}, atif.StatusComplete); err != nil {
		r.logger.Warn().Err(err).Msg("closing trajectory")
	}

	result := &TaskRunResult{
		Passed:      passed,
		Turns:       turns,
		StepSummary: lastN(toolLog, 3),
	}
	if !passed {
		result.ErrorMessage = checkDetail
		if result.ErrorMessage == "" {
			result.ErrorMessage = "check script did not pass"
		}
	}
	r.logger.Info().
		Str("task_id", taskID).
		Bool("passed", passed).
		Int("turns", turns).
		Str("session_id", writer.SessionID()).
		Msg("task run finished")
	return result, nil
}

// contextNote builds the short situational line for the worker prompt: the
// tuned hint, optionally led by the best learned skill.
func (r *WorkerRunner) contextNote(ctx context.Context, cfg ConfigInput) string {
	note := cfg.Hint
	if !cfg.UseSkills || r.skills == nil {
		return note
	}
	skills, err := r.skills.Active(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("loading skills for prompt")
		return note
	}
	best := ""
	bestRate := -1.0
	for _, s := range skills {
		if s.Content != "" && s.SuccessRate > bestRate {
			best = s.Content
			bestRate = s.SuccessRate
		}
	}
	if best == "" {
		return note
	}
	if note == "" {
		return best
	}
	return best + " " + note
}

// applyTool executes one parsed call. Anything the agent got wrong comes
// back as observation text for the next turn, never as a run-aborting error.
func (r *WorkerRunner) applyTool(ctx context.Context, dir string, call *fmbridge.ParsedToolCall) string {
	switch call.Name {
	case "write_file":
		path, err := resolveTaskPath(dir, argString(call.Arguments, "path"))
		if err != nil {
			return "error: " + err.Error()
		}
		content := argString(call.Arguments, "content")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "error: " + err.Error()
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), argString(call.Arguments, "path"))

	case "read_file":
		path, err := resolveTaskPath(dir, argString(call.Arguments, "path"))
		if err != nil {
			return "error: " + err.Error()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "error: " + err.Error()
		}
		return string(data)

	case "edit_file":
		path, err := resolveTaskPath(dir, argString(call.Arguments, "path"))
		if err != nil {
			return "error: " + err.Error()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "error: " + err.Error()
		}
		oldStr := argString(call.Arguments, "old_string")
		newStr := argString(call.Arguments, "new_string")
		if oldStr == "" {
			return "error: old_string is required"
		}
		text := string(data)
		if !strings.Contains(text, oldStr) {
			return "error: old_string not found in file"
		}
		text = strings.Replace(text, oldStr, newStr, 1)
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return "error: " + err.Error()
		}
		return "edited " + argString(call.Arguments, "path")

	case "run_command":
		command := argString(call.Arguments, "command")
		if command == "" {
			return "error: command is required"
		}
		res, err := r.exec.Execute(ctx, sandbox.Spec{Script: command, Workdir: dir, Timeout: commandTimeout})
		if err != nil {
			return "error: " + err.Error()
		}
		return formatCommandResult(res)

	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
}

// runCheck runs the task's check script; detail carries stderr on failure.
func (r *WorkerRunner) runCheck(ctx context.Context, task decompose.TaskInfo, dir string) (bool, string) {
	res, err := r.exec.Execute(ctx, sandbox.Spec{Script: task.Check, Workdir: dir, Timeout: scriptTimeout})
	if err != nil {
		return false, "check script: " + err.Error()
	}
	if res.TimedOut {
		return false, "check script timed out"
	}
	if res.ExitCode == 0 {
		return true, ""
	}
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Stdout)
	}
	return false, detail
}

// resolveTaskPath maps an agent-supplied path into the scratch directory.
// The canonical /app prefix is accepted; anything escaping the directory is
// rejected.
func resolveTaskPath(dir, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if after, ok := strings.CutPrefix(p, "/app/"); ok {
		p = after
	} else if p == "/app" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q is outside the task directory", p)
	}
	root := filepath.Clean(dir)
	full := filepath.Join(root, p)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the task directory", p)
	}
	return full, nil
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func formatCommandResult(res *sandbox.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit %d", res.ExitCode)
	if res.TimedOut {
		b.WriteString(" (timed out)")
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		b.WriteString("\nstdout: " + out)
	}
	if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
		b.WriteString("\nstderr: " + errOut)
	}
	return b.String()
}

// toolSummary condenses a call into "name(primary-arg)" for run summaries.
func toolSummary(call *fmbridge.ParsedToolCall) string {
	arg := argString(call.Arguments, "path")
	if arg == "" {
		arg = argString(call.Arguments, "command")
	}
	if len(arg) > 40 {
		arg = arg[:40] + "..."
	}
	if arg == "" {
		return call.Name
	}
	return call.Name + "(" + arg + ")"
}

func truncateObservation(s string) string {
	if len(s) <= maxObservationChars {
		return s
	}
	return s[:maxObservationChars] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
