package ttt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/sandbox"
)

const (
	solutionFile   = "solve.py"
	inputFile      = "input.json"
	exampleTimeout = 30 * time.Second
)

// defaultRunCommand executes the solution against the staged example input.
const defaultRunCommand = "python3 " + solutionFile + " < " + inputFile

// SandboxValidator executes a candidate's solution against each training
// example inside the sandbox and scores structural equality of the printed
// JSON. A crashing or misprinting solution fails examples; only sandbox
// infrastructure problems are errors.
type SandboxValidator struct {
	exec   sandbox.Executor
	logger zerolog.Logger

	// Command runs the staged solution with the example input on stdin.
	// Defaults to running solve.py under python3.
	Command string
}

// NewSandboxValidator wires a validator over the given executor.
func NewSandboxValidator(exec sandbox.Executor, logger zerolog.Logger) *SandboxValidator {
	return &SandboxValidator{
		exec:    exec,
		logger:  logger.With().Str("component", "ttt-validator").Logger(),
		Command: defaultRunCommand,
	}
}

// Validate stages the solution in a scratch dir and runs it once per
// training example.
func (v *SandboxValidator) Validate(ctx context.Context, task Task, cand Candidate) (*Validation, error) {
	if strings.TrimSpace(cand.Solution) == "" {
		return nil, fmt.Errorf("candidate has no solution to execute")
	}
	dir, err := os.MkdirTemp("", "gym-ttt-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, solutionFile), []byte(cand.Solution), 0644); err != nil {
		return nil, fmt.Errorf("staging solution: %w", err)
	}

	val := &Validation{}
	for i, ex := range task.Examples {
		in, err := json.Marshal(ex.Input)
		if err != nil {
			return nil, fmt.Errorf("encoding example %d input: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(dir, inputFile), in, 0644); err != nil {
			return nil, fmt.Errorf("staging example %d input: %w", i, err)
		}
		res, err := v.exec.Execute(ctx, sandbox.Spec{
			Script:  v.Command,
			Workdir: dir,
			Timeout: exampleTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("executing example %d: %w", i, err)
		}

		er := ExampleResult{Index: i, Want: ex.Output}
		if res.ExitCode == 0 {
			var got any
			if jerr := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &got); jerr == nil {
				er.Got = got
				er.Passed = Equal(got, ex.Output)
			}
		}
		val.ExamplesTested++
		if er.Passed {
			val.ExamplesPassed++
		}
		val.ExampleResults = append(val.ExampleResults, er)
	}
	if val.ExamplesTested > 0 {
		val.Accuracy = float64(val.ExamplesPassed) / float64(val.ExamplesTested)
	}
	return val, nil
}
