package testgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/chat"
	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

// Task kinds, selecting the pytest rendering.
const (
	KindCommand = "command"
	KindRegex   = "regex"
)

// TaskSpec is one generation request.
type TaskSpec struct {
	TaskID      string
	Description string
	Kind        string // KindCommand unless set
	Env         *EnvironmentInfo
}

// WeightSource supplies score weights; *store.Store satisfies it. A nil
// source falls back to the store's seed defaults.
type WeightSource interface {
	Weights(ctx context.Context) (map[string]float64, error)
}

// Generator runs the category/round loop against a chat provider.
type Generator struct {
	chat    chat.Client
	weights WeightSource
	cfg     config.TestGenConfig
	bus     *telemetry.Bus
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewGenerator wires a generator. chatClient is usually the provider
// registry; bus and metrics may be nil.
func NewGenerator(chatClient chat.Client, weights WeightSource, cfg config.TestGenConfig,
	bus *telemetry.Bus, metrics *telemetry.Metrics, logger zerolog.Logger) *Generator {
	return &Generator{
		chat:    chatClient,
		weights: weights,
		cfg:     cfg,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "testgen").Logger(),
	}
}

// Run generates a full suite for the task. Any stage failure emits
// testgen_error and halts; there is no partial result.
func (g *Generator) Run(ctx context.Context, task TaskSpec) (*Result, error) {
	start := time.Now()
	g.publish(telemetry.EventTestGenStart, map[string]any{
		"taskId":     task.TaskID,
		"model":      g.cfg.Model,
		"categories": g.cfg.CategoryOrder,
	})

	res := &Result{TaskID: task.TaskID, CategoryRounds: make(map[string]int)}
	seen := make(map[string]string) // normalized input -> owning category

	for _, category := range g.cfg.CategoryOrder {
		if err := g.runCategory(ctx, task, category, res, seen); err != nil {
			g.publish(telemetry.EventTestGenError, map[string]any{
				"taskId":   task.TaskID,
				"category": category,
				"error":    err.Error(),
			})
			return nil, err
		}
	}

	score, err := g.score(ctx, res.Tests)
	if err != nil {
		g.publish(telemetry.EventTestGenError, map[string]any{
			"taskId": task.TaskID,
			"error":  err.Error(),
		})
		return nil, err
	}
	res.ComprehensivenessScore = score
	res.DurationMS = time.Since(start).Milliseconds()

	g.publish(telemetry.EventTestGenComplete, map[string]any{
		"taskId":                 task.TaskID,
		"totalTests":             len(res.Tests),
		"totalRounds":            res.TotalRounds,
		"categoryRounds":         res.CategoryRounds,
		"comprehensivenessScore": res.ComprehensivenessScore,
		"totalTokensUsed":        res.TotalTokensUsed,
		"durationMs":             res.DurationMS,
		"uncertainties":          res.Uncertainties,
	})
	g.logger.Info().
		Str("task_id", task.TaskID).
		Int("tests", len(res.Tests)).
		Int("rounds", res.TotalRounds).
		Float64("score", res.ComprehensivenessScore).
		Msg("test generation complete")
	return res, nil
}

// runCategory drives one category to "continue" or its round budget.
func (g *Generator) runCategory(ctx context.Context, task TaskSpec, category string,
	res *Result, seen map[string]string) error {

	var catTests []Test
	for round := 1; round <= g.cfg.MaxRoundsPerCategory; round++ {
		res.CategoryRounds[category]++
		res.TotalRounds++

		reply, err := g.chatText(ctx, generatePrompt(task, category, catTests, g.cfg.MaxTestsPerRound), res)
		if err != nil {
			return fmt.Errorf("generate round %d for %s: %w", round, category, err)
		}
		tests, err := ParseTests(reply, category)
		if err != nil {
			return err
		}

		added := 0
		for _, t := range tests {
			key := NormalizeInput(t.Input)
			if key == "" {
				continue
			}
			if owner, dup := seen[key]; dup {
				g.logger.Debug().
					Str("category", category).
					Str("owner", owner).
					Msg("dropping duplicate test input")
				continue
			}
			seen[key] = category
			if t.ID == "" {
				t.ID = fmt.Sprintf("%s-%d", category, len(catTests)+1)
			}
			catTests = append(catTests, t)
			res.Tests = append(res.Tests, t)
			added++
			g.metrics.IncTestGenerated(category)
			g.publish(telemetry.EventTestGenTest, map[string]any{
				"taskId":     task.TaskID,
				"category":   category,
				"id":         t.ID,
				"input":      clip(t.Input, 120),
				"confidence": t.Confidence,
			})
		}
		g.publish(telemetry.EventTestGenProgress, map[string]any{
			"taskId":        task.TaskID,
			"category":      category,
			"round":         round,
			"added":         added,
			"categoryTotal": len(catTests),
			"total":         len(res.Tests),
		})

		reply, err = g.chatText(ctx, reflectPrompt(task, category, catTests, round, g.cfg.MaxRoundsPerCategory), res)
		if err != nil {
			return fmt.Errorf("reflect round %d for %s: %w", round, category, err)
		}
		refl, err := ParseReflection(reply)
		if err != nil {
			return err
		}
		g.publish(telemetry.EventTestGenReflection, map[string]any{
			"taskId":                 task.TaskID,
			"category":               category,
			"round":                  round,
			"comprehensivenessScore": refl.ComprehensivenessScore,
			"action":                 refl.Action,
		})

		if refl.Action == ActionContinue {
			return nil
		}
		if round == g.cfg.MaxRoundsPerCategory {
			// Budget ran out while the reflector still wanted more; carry
			// its open gaps forward as uncertainties.
			for _, gap := range refl.Gaps {
				res.Uncertainties = append(res.Uncertainties, category+": "+gap)
			}
		}
	}
	return nil
}

func (g *Generator) chatText(ctx context.Context, prompt string, res *Result) (string, error) {
	resp, err := g.chat.Chat(ctx, chat.Request{
		Model:    g.cfg.Model,
		Messages: []chat.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if resp.Usage != nil {
		res.TotalTokensUsed += resp.Usage.TotalTokens
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}
	return text, nil
}

func (g *Generator) score(ctx context.Context, tests []Test) (float64, error) {
	weights := store.DefaultWeights
	if g.weights != nil {
		w, err := g.weights.Weights(ctx)
		if err != nil {
			return 0, fmt.Errorf("loading score weights: %w", err)
		}
		if len(w) > 0 {
			weights = w
		}
	}
	return Score(tests, weights, g.cfg.Distribution), nil
}

func (g *Generator) publish(eventType string, payload map[string]any) {
	g.bus.Publish(telemetry.NewEvent(eventType, payload))
}
