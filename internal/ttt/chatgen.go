package ttt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/openagents/gym/internal/chat"
)

// ChatGenerator asks a chat model for candidate solutions, one per call.
// Unparseable replies are skipped rather than fatal: a bad sample costs one
// attempt slot, the batch survives.
type ChatGenerator struct {
	chat   chat.Client
	model  string
	logger zerolog.Logger
}

// NewChatGenerator wires a generator over the given provider and model.
func NewChatGenerator(chatClient chat.Client, model string, logger zerolog.Logger) *ChatGenerator {
	return &ChatGenerator{
		chat:   chatClient,
		model:  model,
		logger: logger.With().Str("component", "ttt-generator").Logger(),
	}
}

// Generate requests up to n candidates.
func (g *ChatGenerator) Generate(ctx context.Context, task Task, iteration, n int,
	hindsight []HindsightPair) ([]Candidate, error) {

	prompt, err := solvePrompt(task, iteration, hindsight)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := g.chat.Chat(ctx, chat.Request{
			Model:    g.model,
			Messages: []chat.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, fmt.Errorf("requesting candidate %d: %w", i+1, err)
		}
		cand, err := parseCandidate(resp.Text())
		if err != nil {
			g.logger.Debug().Err(err).Int("iteration", iteration).Msg("skipping unparseable candidate")
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func solvePrompt(task Task, iteration int, hindsight []HindsightPair) (string, error) {
	var b strings.Builder
	b.WriteString("Solve the task below by writing a program.\n\n")
	if task.Description != "" {
		fmt.Fprintf(&b, "Task: %s\n\n", task.Description)
	}
	b.WriteString("Training examples (your program must map each input to its output):\n")
	for i, ex := range task.Examples {
		in, err := json.Marshal(ex.Input)
		if err != nil {
			return "", fmt.Errorf("encoding example %d input: %w", i, err)
		}
		out, err := json.Marshal(ex.Output)
		if err != nil {
			return "", fmt.Errorf("encoding example %d output: %w", i, err)
		}
		fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, in, out)
	}
	testIn, err := json.Marshal(task.TestInput)
	if err != nil {
		return "", fmt.Errorf("encoding test input: %w", err)
	}
	fmt.Fprintf(&b, "\nTest input: %s\n", testIn)

	if len(hindsight) > 0 {
		fmt.Fprintf(&b, "\nEarlier attempts that were close but wrong (iteration %d):\n", iteration)
		for i, h := range hindsight {
			if i >= 5 {
				break
			}
			out, err := json.Marshal(h.Output)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "- predicted %s, training accuracy %.2f\n", out, h.TrainingAccuracy)
		}
		b.WriteString("Produce a different solution that also fixes the examples those attempts missed.\n")
	}

	b.WriteString("\nReply with only a JSON object: " +
		`{"solution": "python3 source that reads input.json and prints the output as JSON", "output": <your predicted output for the test input>}.` + "\n")
	return b.String(), nil
}

// parseCandidate pulls the solution/output object out of a model reply.
func parseCandidate(raw string) (Candidate, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return Candidate{}, fmt.Errorf("no JSON object in reply")
	}
	doc := raw[start : end+1]
	if !gjson.Valid(doc) {
		return Candidate{}, fmt.Errorf("malformed JSON in reply")
	}
	r := gjson.Parse(doc)
	solution := r.Get("solution").String()
	output := r.Get("output")
	if strings.TrimSpace(solution) == "" || !output.Exists() {
		return Candidate{}, fmt.Errorf("reply missing solution or output")
	}
	return Candidate{Solution: solution, Output: output.Value()}, nil
}
