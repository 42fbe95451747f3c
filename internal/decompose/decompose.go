// Package decompose holds the static benchmark knowledge: the task catalog
// with its nested TB subsets, and decompositions that break complex tasks
// into ordered subtasks with artifact checkpoints.
package decompose

import "strings"

// Subtask is one step of a task decomposition.
type Subtask struct {
	ID                string
	Name              string
	Goal              string
	Checkpoint        string   // observable condition that marks this step done
	ExpectedArtifacts []string // file suffixes that must exist
	DependsOn         []string
	Hints             []string
	MaxTurns          int
	Terminal          bool // final step: requires full progress, not just a checkpoint pass
}

// TaskDecomposition describes how a task breaks into subtasks.
type TaskDecomposition struct {
	TaskID          string
	Subtasks        []Subtask
	GlobalHints     []string
	FilesToRead     []string
	RequiredOutputs []string
}

// For returns the decomposition for a task. Tasks without a table entry get
// the generic understand -> implement -> verify fallback.
func For(taskID string) TaskDecomposition {
	if dec, ok := decompositions[taskID]; ok {
		return dec
	}
	return TaskDecomposition{
		TaskID: taskID,
		Subtasks: []Subtask{
			{
				ID:         "understand",
				Name:       "Understand the task",
				Goal:       "Read the task description and inspect any referenced files.",
				Checkpoint: "Can state the expected output and where it goes.",
				MaxTurns:   5,
			},
			{
				ID:         "implement",
				Name:       "Implement the solution",
				Goal:       "Produce the required artifacts.",
				Checkpoint: "All required outputs written.",
				DependsOn:  []string{"understand"},
				MaxTurns:   15,
			},
			{
				ID:         "verify",
				Name:       "Verify the solution",
				Goal:       "Re-read the artifacts and confirm they satisfy the task.",
				Checkpoint: "Outputs match the task description exactly.",
				DependsOn:  []string{"implement"},
				MaxTurns:   5,
				Terminal:   true,
			},
		},
	}
}

// CurrentSubtask returns the first incomplete subtask whose dependencies are
// all complete, in declaration order. False when every subtask is done or
// the remaining ones are blocked.
func CurrentSubtask(dec TaskDecomposition, completed map[string]bool) (Subtask, bool) {
	for _, sub := range dec.Subtasks {
		if completed[sub.ID] {
			continue
		}
		ready := true
		for _, dep := range sub.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return sub, true
		}
	}
	return Subtask{}, false
}

// IsSubtaskComplete reports whether a subtask is done: every expected
// artifact must be present (suffix match against produced paths), and
// progress must reach 1.0 for terminal subtasks or 0.5 for intermediate
// test-and-iterate ones.
func IsSubtaskComplete(sub Subtask, progress float64, artifacts []string) bool {
	for _, want := range sub.ExpectedArtifacts {
		if !hasArtifact(artifacts, want) {
			return false
		}
	}
	if sub.Terminal {
		return progress >= 1.0
	}
	return progress >= 0.5
}

func hasArtifact(artifacts []string, suffix string) bool {
	for _, a := range artifacts {
		if strings.HasSuffix(a, suffix) {
			return true
		}
	}
	return false
}

// Decompositions for the multi-stage integration tasks. Single-artifact
// tasks do fine with the fallback.
var decompositions = map[string]TaskDecomposition{
	"log-pipeline": {
		TaskID: "log-pipeline",
		Subtasks: []Subtask{
			{
				ID:         "inspect-log",
				Name:       "Inspect the log format",
				Goal:       "Read server.log and identify the date and level fields.",
				Checkpoint: "Knows which lines count as errors.",
				Hints:      []string{"Lines start with the date, then the level."},
				MaxTurns:   4,
			},
			{
				ID:                "aggregate",
				Name:              "Aggregate errors per day",
				Goal:              "Count ERROR lines grouped by date and write report.txt.",
				Checkpoint:        "report.txt has one 'date count' line per day.",
				ExpectedArtifacts: []string{"report.txt"},
				DependsOn:         []string{"inspect-log"},
				Hints:             []string{"Sort the dates ascending before writing."},
				MaxTurns:          8,
			},
			{
				ID:                "verify-report",
				Name:              "Verify the report",
				Goal:              "Re-read report.txt and cross-check the counts against the log.",
				Checkpoint:        "Counts match a manual tally.",
				ExpectedArtifacts: []string{"report.txt"},
				DependsOn:         []string{"aggregate"},
				MaxTurns:          4,
				Terminal:          true,
			},
		},
		GlobalHints:     []string{"Only ERROR lines count; INFO and WARN do not."},
		FilesToRead:     []string{"server.log"},
		RequiredOutputs: []string{"report.txt"},
	},
	"csv-report": {
		TaskID: "csv-report",
		Subtasks: []Subtask{
			{
				ID:         "inspect-csv",
				Name:       "Inspect the sales data",
				Goal:       "Read sales.csv and identify the region and amount columns.",
				Checkpoint: "Knows the header layout.",
				MaxTurns:   4,
			},
			{
				ID:                "group-sum",
				Name:              "Group and sum",
				Goal:              "Sum amounts per region and write report.csv with a region,total header.",
				Checkpoint:        "report.csv exists with one row per region.",
				ExpectedArtifacts: []string{"report.csv"},
				DependsOn:         []string{"inspect-csv"},
				Hints:             []string{"Sort regions alphabetically."},
				MaxTurns:          10,
			},
			{
				ID:                "verify-totals",
				Name:              "Verify the totals",
				Goal:              "Re-read report.csv and confirm each total against the source rows.",
				Checkpoint:        "Totals add up.",
				ExpectedArtifacts: []string{"report.csv"},
				DependsOn:         []string{"group-sum"},
				MaxTurns:          4,
				Terminal:          true,
			},
		},
		FilesToRead:     []string{"sales.csv"},
		RequiredOutputs: []string{"report.csv"},
	},
	"todo-cli": {
		TaskID: "todo-cli",
		Subtasks: []Subtask{
			{
				ID:         "design-storage",
				Name:       "Design the storage",
				Goal:       "Decide the todo.json shape: a list of item strings is enough.",
				Checkpoint: "Storage format chosen.",
				MaxTurns:   3,
			},
			{
				ID:                "implement-add",
				Name:              "Implement add",
				Goal:              "Write todo.py with an add subcommand that appends to todo.json.",
				Checkpoint:        "Running add twice leaves two items in todo.json.",
				ExpectedArtifacts: []string{"todo.py"},
				DependsOn:         []string{"design-storage"},
				Hints:             []string{"Create todo.json on first use if missing."},
				MaxTurns:          8,
			},
			{
				ID:                "implement-list",
				Name:              "Implement list",
				Goal:              "Add a list subcommand printing '1. text' numbered lines.",
				Checkpoint:        "list output is numbered from 1 in insertion order.",
				ExpectedArtifacts: []string{"todo.py"},
				DependsOn:         []string{"implement-add"},
				MaxTurns:          6,
			},
			{
				ID:                "verify-cli",
				Name:              "Verify both subcommands",
				Goal:              "Run add then list and confirm the output format.",
				Checkpoint:        "add and list behave as specified end to end.",
				ExpectedArtifacts: []string{"todo.py"},
				DependsOn:         []string{"implement-list"},
				MaxTurns:          5,
				Terminal:          true,
			},
		},
		GlobalHints:     []string{"Keep state in todo.json next to the script."},
		RequiredOutputs: []string{"todo.py"},
	},
	"checksum-verify": {
		TaskID: "checksum-verify",
		Subtasks: []Subtask{
			{
				ID:         "parse-sums",
				Name:       "Parse the checksum list",
				Goal:       "Read sums.txt and split each line into checksum and file name.",
				Checkpoint: "Knows every file to verify.",
				MaxTurns:   4,
			},
			{
				ID:                "verify-files",
				Name:              "Verify each file",
				Goal:              "Hash each listed file and compare; write '<file> OK' or '<file> MISMATCH' to verify.txt.",
				Checkpoint:        "verify.txt has one line per sums.txt entry, in order.",
				ExpectedArtifacts: []string{"verify.txt"},
				DependsOn:         []string{"parse-sums"},
				Hints:             []string{"md5sum -c reports per-file status; parsing its output also works."},
				MaxTurns:          8,
			},
			{
				ID:                "confirm-output",
				Name:              "Confirm the output order",
				Goal:              "Re-read verify.txt and confirm it preserves the sums.txt order.",
				Checkpoint:        "Line order matches the input.",
				ExpectedArtifacts: []string{"verify.txt"},
				DependsOn:         []string{"verify-files"},
				MaxTurns:          4,
				Terminal:          true,
			},
		},
		FilesToRead:     []string{"sums.txt"},
		RequiredOutputs: []string{"verify.txt"},
	},
	"word-freq-report": {
		TaskID: "word-freq-report",
		Subtasks: []Subtask{
			{
				ID:         "tokenize",
				Name:       "Tokenize the essay",
				Goal:       "Read essay.txt and split it into words.",
				Checkpoint: "Word list extracted.",
				MaxTurns:   4,
			},
			{
				ID:                "compute-stats",
				Name:              "Compute the statistics",
				Goal:              "Count unique words and find the most frequent one; write stats.json.",
				Checkpoint:        "stats.json holds the unique count and top word.",
				ExpectedArtifacts: []string{"stats.json"},
				DependsOn:         []string{"tokenize"},
				Hints:             []string{"The output must be valid JSON with keys 'unique' and 'top'."},
				MaxTurns:          8,
			},
			{
				ID:                "validate-json",
				Name:              "Validate the JSON",
				Goal:              "Parse stats.json back and confirm both keys are present and correct.",
				Checkpoint:        "stats.json parses and matches the essay.",
				ExpectedArtifacts: []string{"stats.json"},
				DependsOn:         []string{"compute-stats"},
				MaxTurns:          4,
				Terminal:          true,
			},
		},
		FilesToRead:     []string{"essay.txt"},
		RequiredOutputs: []string{"stats.json"},
	},
}
