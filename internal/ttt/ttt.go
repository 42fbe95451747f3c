// Package ttt runs test-time training: repeated solution attempts against a
// task's labelled examples, with weighted majority voting over the predicted
// outputs.
//
// DESIGN: The loop owns iteration, termination, and voting; generation and
// validation are seams. Per iteration it asks the generator for a batch of
// candidates, scores each against the training examples, and optionally
// relabels near-miss failures as hindsight pairs that feed the next batch.
// The loop stops early when the best training accuracy satisfies the
// threshold or an iteration stops improving.
package ttt

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Example is one labelled training pair.
type Example struct {
	Input  any `json:"input"`
	Output any `json:"output"`
}

// Task is a TTT target: labelled examples plus the test input to predict
// for.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Examples    []Example `json:"examples"`
	TestInput   any       `json:"test_input"`
}

// Candidate is one proposed solution: the predicted test output plus the
// program text the validator executes against the training examples.
type Candidate struct {
	Output   any    `json:"output"`
	Solution string `json:"solution,omitempty"`
}

// Attempt is a scored candidate.
type Attempt struct {
	Output           any     `json:"output"`
	TrainingAccuracy float64 `json:"training_accuracy"`
	Success          bool    `json:"success"`
	Iteration        int     `json:"iteration"`
}

// ExampleResult reports one training example's outcome.
type ExampleResult struct {
	Index  int  `json:"index"`
	Passed bool `json:"passed"`
	Got    any  `json:"got,omitempty"`
	Want   any  `json:"want,omitempty"`
}

// Validation is a candidate's score against the training examples.
type Validation struct {
	Accuracy       float64         `json:"accuracy"`
	ExamplesTested int             `json:"examples_tested"`
	ExamplesPassed int             `json:"examples_passed"`
	ExampleResults []ExampleResult `json:"example_results,omitempty"`
}

// HindsightPair relabels a failed but partially-correct attempt as the right
// answer to a synthetic task, so a near-miss strategy becomes training
// signal for the next iteration.
type HindsightPair struct {
	TaskID           string  `json:"task_id"`
	SourceIteration  int     `json:"source_iteration"`
	TrainingAccuracy float64 `json:"training_accuracy"`
	Output           any     `json:"output"`
	Solution         string  `json:"solution,omitempty"`
}

// Generator proposes up to n candidates for an iteration.
type Generator interface {
	Generate(ctx context.Context, task Task, iteration, n int, hindsight []HindsightPair) ([]Candidate, error)
}

// Validator executes a candidate against the task's training examples.
type Validator interface {
	Validate(ctx context.Context, task Task, cand Candidate) (*Validation, error)
}

// Config bounds the loop.
type Config struct {
	MaxIterations         int     `yaml:"max_iterations"`
	AttemptsPerIteration  int     `yaml:"attempts_per_iteration"`
	SatisfactionThreshold float64 `yaml:"satisfaction_threshold"`
	MinImprovement        float64 `yaml:"min_improvement"`
	Hindsight             bool    `yaml:"hindsight"`
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         5,
		AttemptsPerIteration:  50,
		SatisfactionThreshold: 1.0,
		MinImprovement:        0.01,
		Hindsight:             true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.AttemptsPerIteration <= 0 {
		c.AttemptsPerIteration = d.AttemptsPerIteration
	}
	if c.SatisfactionThreshold <= 0 {
		c.SatisfactionThreshold = d.SatisfactionThreshold
	}
	if c.MinImprovement <= 0 {
		c.MinImprovement = d.MinImprovement
	}
	return c
}

// Stop reasons reported in the outcome.
const (
	StopSatisfied      = "satisfied"
	StopNoImprovement  = "no_improvement"
	StopIterationLimit = "iteration_limit"
)

// Outcome is the loop's final report.
type Outcome struct {
	TaskID         string    `json:"task_id"`
	Prediction     any       `json:"prediction"`
	Confidence     float64   `json:"confidence"`
	BestAccuracy   float64   `json:"best_accuracy"`
	Iterations     int       `json:"iterations"`
	TotalAttempts  int       `json:"total_attempts"`
	StopReason     string    `json:"stop_reason"`
	HindsightPairs int       `json:"hindsight_pairs,omitempty"`
	Attempts       []Attempt `json:"attempts,omitempty"`
}

// Loop owns the generate/validate/vote cycle.
type Loop struct {
	gen    Generator
	val    Validator
	cfg    Config
	logger zerolog.Logger
}

// New wires a loop.
func New(gen Generator, val Validator, cfg Config, logger zerolog.Logger) *Loop {
	return &Loop{
		gen:    gen,
		val:    val,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "ttt").Logger(),
	}
}

// Run iterates until satisfaction, plateau, or the iteration limit, then
// votes over every attempt made.
func (l *Loop) Run(ctx context.Context, task Task) (*Outcome, error) {
	var (
		attempts  []Attempt
		hindsight []HindsightPair
		iterBest  []float64
	)
	best := 0.0
	iterations := 0
	stop := StopIterationLimit

	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations = iter

		cands, err := l.gen.Generate(ctx, task, iter, l.cfg.AttemptsPerIteration, hindsight)
		if err != nil {
			return nil, fmt.Errorf("generating attempts for iteration %d: %w", iter, err)
		}
		if len(cands) > l.cfg.AttemptsPerIteration {
			cands = cands[:l.cfg.AttemptsPerIteration]
		}

		iterationBest := 0.0
		for _, cand := range cands {
			v, err := l.val.Validate(ctx, task, cand)
			if err != nil {
				return nil, fmt.Errorf("validating attempt in iteration %d: %w", iter, err)
			}
			a := Attempt{
				Output:           cand.Output,
				TrainingAccuracy: v.Accuracy,
				Success:          v.Accuracy >= l.cfg.SatisfactionThreshold,
				Iteration:        iter,
			}
			attempts = append(attempts, a)
			if v.Accuracy > iterationBest {
				iterationBest = v.Accuracy
			}
			if l.cfg.Hindsight && !a.Success && v.Accuracy > 0 {
				hindsight = append(hindsight, HindsightPair{
					TaskID:           task.ID,
					SourceIteration:  iter,
					TrainingAccuracy: v.Accuracy,
					Output:           cand.Output,
					Solution:         cand.Solution,
				})
			}
		}
		if iterationBest > best {
			best = iterationBest
		}
		iterBest = append(iterBest, iterationBest)

		l.logger.Info().
			Str("task_id", task.ID).
			Int("iteration", iter).
			Int("attempts", len(cands)).
			Float64("iteration_best", iterationBest).
			Float64("best", best).
			Msg("ttt iteration complete")

		if best >= l.cfg.SatisfactionThreshold {
			stop = StopSatisfied
			break
		}
		if n := len(iterBest); n >= 2 && iterBest[n-1]-iterBest[n-2] < l.cfg.MinImprovement {
			stop = StopNoImprovement
			break
		}
	}

	prediction, confidence, err := Vote(attempts)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		TaskID:         task.ID,
		Prediction:     prediction,
		Confidence:     confidence,
		BestAccuracy:   best,
		Iterations:     iterations,
		TotalAttempts:  len(attempts),
		StopReason:     stop,
		HindsightPairs: len(hindsight),
		Attempts:       attempts,
	}, nil
}
