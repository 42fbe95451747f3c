package hillclimb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/chat"
	"github.com/openagents/gym/internal/fmbridge"
	"github.com/openagents/gym/internal/sandbox"
	"github.com/openagents/gym/internal/store"
)

// scriptedChat replays canned worker replies in order, repeating the last
// one when the script runs out.
type scriptedChat struct {
	replies []string
	calls   int
}

func (s *scriptedChat) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	reply := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	return &chat.Response{Choices: []chat.Choice{{
		Message: chat.ResponseMessage{Role: "assistant", Content: reply},
	}}}, nil
}

func newTestRunner(t *testing.T, replies ...string) (*WorkerRunner, string) {
	t.Helper()
	trajDir := t.TempDir()
	worker := fmbridge.NewWorker(&scriptedChat{replies: replies}, "fm/default", zerolog.Nop())
	exec := sandbox.NewLocalExecutor("", nil, zerolog.Nop())
	runner := NewWorkerRunner(worker, exec, WorkerRunnerOptions{TrajectoriesDir: trajDir}, zerolog.Nop())
	return runner, trajDir
}

// readTrajectory returns the single recorded session's JSONL content.
func readTrajectory(t *testing.T, trajDir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(trajDir, "*", "session-*.atif.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

// TestRunTaskPassesAndRecordsTrajectory verifies a one-shot solve: the check
// passes, the summary names the tool, and the session lands on disk.
func TestRunTaskPassesAndRecordsTrajectory(t *testing.T) {
	runner, trajDir := newTestRunner(t,
		`<tool_call>{"name": "write_file", "arguments": {"path": "/app/hello.txt", "content": "Hello, world!"}}</tool_call>`)

	res, err := runner.RunTask(context.Background(), "hello-world", ConfigInput{TaskID: "hello-world"})
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Turns)
	assert.Empty(t, res.ErrorMessage)
	require.Len(t, res.StepSummary, 1)
	assert.Equal(t, "write_file(/app/hello.txt)", res.StepSummary[0])

	raw := readTrajectory(t, trajDir)
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	// header + user + agent + verdict
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"__header__":true`)
	assert.Contains(t, lines[1], "hello.txt")
	assert.Contains(t, lines[2], `"write_file"`)
	assert.Contains(t, lines[3], "task check passed")

	indexes, err := filepath.Glob(filepath.Join(trajDir, "*", "session-*.index.json"))
	require.NoError(t, err)
	assert.Len(t, indexes, 1)
}

// TestRunTaskExhaustsBudget verifies a run that never solves the task stops
// at the turn budget with a check-failure message.
func TestRunTaskExhaustsBudget(t *testing.T) {
	runner, _ := newTestRunner(t,
		`<tool_call>{"name": "read_file", "arguments": {"path": "/app/missing.txt"}}</tool_call>`)

	budget := 2
	res, err := runner.RunTask(context.Background(), "hello-world",
		ConfigInput{TaskID: "hello-world", MaxTurnsOverride: &budget})
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, 2, res.Turns)
	assert.NotEmpty(t, res.ErrorMessage)
}

// TestRunTaskRecoversFromParseFailure verifies an unparseable reply consumes
// a turn but the run continues.
func TestRunTaskRecoversFromParseFailure(t *testing.T) {
	runner, trajDir := newTestRunner(t,
		"I think I should write a file now.",
		`<tool_call>{"name": "write_file", "arguments": {"path": "hello.txt", "content": "Hello, world!"}}</tool_call>`)

	res, err := runner.RunTask(context.Background(), "hello-world", ConfigInput{TaskID: "hello-world"})
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Turns)

	raw := readTrajectory(t, trajDir)
	assert.Contains(t, raw, "tool call could not be parsed")
}

// TestRunTaskSetupSeedsFixtures verifies the task setup script runs before
// the agent: the fixture file is readable on turn one.
func TestRunTaskSetupSeedsFixtures(t *testing.T) {
	runner, trajDir := newTestRunner(t,
		`<tool_call>{"name": "read_file", "arguments": {"path": "/app/input.txt"}}</tool_call>`,
		`<tool_call>{"name": "write_file", "arguments": {"path": "/app/count.txt", "content": "5"}}</tool_call>`)

	res, err := runner.RunTask(context.Background(), "word-count", ConfigInput{TaskID: "word-count"})
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Turns)

	// the read_file observation carries the fixture content
	raw := readTrajectory(t, trajDir)
	assert.Contains(t, raw, "alpha beta gamma")
}

// TestRunTaskUnknownTask verifies tasks outside the catalog error out.
func TestRunTaskUnknownTask(t *testing.T) {
	runner, _ := newTestRunner(t, "unused")
	_, err := runner.RunTask(context.Background(), "not-in-catalog", ConfigInput{TaskID: "not-in-catalog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

// TestResolveTaskPath verifies /app mapping and escape rejection.
func TestResolveTaskPath(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveTaskPath(dir, "/app/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hello.txt"), got)

	got, err = resolveTaskPath(dir, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "file.txt"), got)

	_, err = resolveTaskPath(dir, "../outside.txt")
	assert.Error(t, err)

	_, err = resolveTaskPath(dir, "/etc/passwd")
	assert.Error(t, err)

	_, err = resolveTaskPath(dir, "")
	assert.Error(t, err)
}

type fakeSkills struct {
	skills []*store.Skill
	err    error
}

func (f *fakeSkills) Active(context.Context) ([]*store.Skill, error) { return f.skills, f.err }

// TestContextNotePrependsBestSkill verifies the highest-rated skill leads the
// worker's context line when the config opts in.
func TestContextNotePrependsBestSkill(t *testing.T) {
	runner, _ := newTestRunner(t, "unused")
	runner.skills = &fakeSkills{skills: []*store.Skill{
		{Content: "weak advice", SuccessRate: 0.3},
		{Content: "strong advice", SuccessRate: 0.9},
	}}

	note := runner.contextNote(context.Background(), ConfigInput{UseSkills: true, Hint: "anchor the regex"})
	assert.Equal(t, "strong advice anchor the regex", note)

	note = runner.contextNote(context.Background(), ConfigInput{Hint: "anchor the regex"})
	assert.Equal(t, "anchor the regex", note, "skills stay out unless the config opts in")

	runner.skills = &fakeSkills{err: errors.New("db closed")}
	note = runner.contextNote(context.Background(), ConfigInput{UseSkills: true, Hint: "bare"})
	assert.Equal(t, "bare", note, "lister failure degrades to the hint")
}

// TestRunnerHelpers covers the small summary helpers.
func TestRunnerHelpers(t *testing.T) {
	call := &fmbridge.ParsedToolCall{Name: "run_command", Arguments: map[string]any{"command": "ls -la"}}
	assert.Equal(t, "run_command(ls -la)", toolSummary(call))

	assert.Equal(t, []string{"b", "c", "d"}, lastN([]string{"a", "b", "c", "d"}, 3))
	assert.Equal(t, []string{"a"}, lastN([]string{"a"}, 3))

	assert.Equal(t, "first", firstLine("first\nsecond"))
	assert.Equal(t, "whole", firstLine("whole"))
}
