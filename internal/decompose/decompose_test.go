package decompose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestForKnownTask verifies a table entry is returned as declared.
func TestForKnownTask(t *testing.T) {
	dec := For("todo-cli")
	require.Len(t, dec.Subtasks, 4)
	assert.Equal(t, "design-storage", dec.Subtasks[0].ID)
	assert.True(t, dec.Subtasks[3].Terminal)
	assert.Equal(t, []string{"todo.py"}, dec.RequiredOutputs)
}

// TestForUnknownTaskFallback verifies unknown tasks get the generic
// three-step decomposition with chained dependencies.
func TestForUnknownTaskFallback(t *testing.T) {
	dec := For("never-heard-of-it")
	require.Len(t, dec.Subtasks, 3)
	assert.Equal(t, "understand", dec.Subtasks[0].ID)
	assert.Equal(t, []string{"understand"}, dec.Subtasks[1].DependsOn)
	assert.Equal(t, []string{"implement"}, dec.Subtasks[2].DependsOn)
	assert.False(t, dec.Subtasks[0].Terminal)
	assert.True(t, dec.Subtasks[2].Terminal)
}

// TestCurrentSubtaskOrder verifies declaration-order selection with
// dependency gating.
func TestCurrentSubtaskOrder(t *testing.T) {
	dec := For("log-pipeline")

	sub, ok := CurrentSubtask(dec, nil)
	require.True(t, ok)
	assert.Equal(t, "inspect-log", sub.ID)

	sub, ok = CurrentSubtask(dec, map[string]bool{"inspect-log": true})
	require.True(t, ok)
	assert.Equal(t, "aggregate", sub.ID)

	// verify-report depends on aggregate, so nothing is ready when only the
	// first step is done and aggregate is (hypothetically) skipped
	sub, ok = CurrentSubtask(dec, map[string]bool{"inspect-log": true, "aggregate": true})
	require.True(t, ok)
	assert.Equal(t, "verify-report", sub.ID)
}

// TestCurrentSubtaskAllComplete verifies exhaustion reports no subtask.
func TestCurrentSubtaskAllComplete(t *testing.T) {
	dec := For("csv-report")
	done := map[string]bool{}
	for _, sub := range dec.Subtasks {
		done[sub.ID] = true
	}
	_, ok := CurrentSubtask(dec, done)
	assert.False(t, ok)
}

// TestCurrentSubtaskBlockedByDependency verifies a subtask whose dependency
// is incomplete is skipped in favor of an earlier ready one.
func TestCurrentSubtaskBlockedByDependency(t *testing.T) {
	dec := TaskDecomposition{
		TaskID: "t",
		Subtasks: []Subtask{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"missing"}},
			{ID: "c", DependsOn: []string{"a"}},
		},
	}
	sub, ok := CurrentSubtask(dec, map[string]bool{"a": true})
	require.True(t, ok)
	assert.Equal(t, "c", sub.ID)
}

// TestIsSubtaskCompleteArtifacts verifies suffix matching against produced
// paths.
func TestIsSubtaskCompleteArtifacts(t *testing.T) {
	sub := Subtask{ID: "x", ExpectedArtifacts: []string{"report.txt"}}

	assert.True(t, IsSubtaskComplete(sub, 0.5, []string{"/tmp/task-abc/report.txt"}))
	assert.False(t, IsSubtaskComplete(sub, 1.0, []string{"/tmp/task-abc/other.txt"}))
	assert.False(t, IsSubtaskComplete(sub, 1.0, nil))
}

// TestIsSubtaskCompleteProgressGates verifies the terminal and intermediate
// progress thresholds.
func TestIsSubtaskCompleteProgressGates(t *testing.T) {
	intermediate := Subtask{ID: "mid"}
	terminal := Subtask{ID: "end", Terminal: true}

	assert.False(t, IsSubtaskComplete(intermediate, 0.4, nil))
	assert.True(t, IsSubtaskComplete(intermediate, 0.5, nil))

	assert.False(t, IsSubtaskComplete(terminal, 0.99, nil))
	assert.True(t, IsSubtaskComplete(terminal, 1.0, nil))
}
