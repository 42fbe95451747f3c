// Package archivist mines completed trajectories for reusable patterns,
// promotes the strong ones into the skill store, and prunes what stopped
// earning its keep.
//
// DESIGN: A run lists stored trajectories not yet in archive_marks, extracts
// Patterns per trajectory, filters on confidence and occurrences, and acts on
// each pattern by type: skill and optimization patterns become learned skills
// with a linked reflection, failure patterns become reflections, insights are
// only surfaced on the event bus. Every processed session is marked so reruns
// are cheap. Per-pattern and per-trajectory failures are logged and skipped,
// never fatal to the run.
package archivist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/atif"
	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/decompose"
	"github.com/openagents/gym/internal/store"
	"github.com/openagents/gym/internal/telemetry"
)

// Archivist owns the mine->promote->mark->prune cycle.
type Archivist struct {
	trajectories *atif.Store
	db           *store.Store
	full         Extractor
	quick        Extractor
	cfg          config.ArchivistConfig
	bus          *telemetry.Bus
	metrics      *telemetry.Metrics
	logger       zerolog.Logger
}

// New wires an archivist. full may be nil, in which case quick serves both
// modes; quick defaults to the heuristic extractor. bus and metrics may be
// nil.
func New(trajectories *atif.Store, db *store.Store, full, quick Extractor,
	cfg config.ArchivistConfig, bus *telemetry.Bus, metrics *telemetry.Metrics,
	logger zerolog.Logger) *Archivist {
	if quick == nil {
		quick = HeuristicExtractor{}
	}
	if full == nil {
		full = quick
	}
	return &Archivist{
		trajectories: trajectories,
		db:           db,
		full:         full,
		quick:        quick,
		cfg:          cfg,
		bus:          bus,
		metrics:      metrics,
		logger:       logger.With().Str("component", "archivist").Logger(),
	}
}

// Report summarizes one archivist run.
type Report struct {
	RunID              string `json:"run_id"`
	Mode               string `json:"mode"` // full or quick
	Scanned            int    `json:"scanned"`
	PatternsFound      int    `json:"patterns_found"`
	SkillsPromoted     int    `json:"skills_promoted"`
	ReflectionsWritten int    `json:"reflections_written"`
	TrajectoriesPruned int    `json:"trajectories_pruned"`
	SkillsPruned       int    `json:"skills_pruned"`
	DurationMS         int64  `json:"duration_ms"`
}

// RunArchive mines every unprocessed trajectory with the full extractor,
// which may call a chat model.
func (a *Archivist) RunArchive(ctx context.Context) (*Report, error) {
	return a.run(ctx, "full", a.full)
}

// RunQuickArchive mines with the heuristic extractor only; no model calls.
func (a *Archivist) RunQuickArchive(ctx context.Context) (*Report, error) {
	return a.run(ctx, "quick", a.quick)
}

func (a *Archivist) run(ctx context.Context, mode string, ex Extractor) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: "archive-" + ulid.Make().String(), Mode: mode}

	// Sessions recorded by the runner live as streams until someone folds
	// them into full documents; this run is that someone.
	if ids, err := a.trajectories.ConsolidateStreams(); err != nil {
		a.logger.Warn().Err(err).Msg("consolidating session streams")
	} else if len(ids) > 0 {
		a.logger.Debug().Int("sessions", len(ids)).Msg("session streams consolidated")
	}

	a.publish(telemetry.EventArchivistRunStart, map[string]any{
		"run_id": report.RunID,
		"mode":   mode,
	})

	ids, err := a.trajectories.List()
	if err != nil {
		return nil, fmt.Errorf("listing trajectories: %w", err)
	}
	archived, err := a.db.ArchivedSet(ctx)
	if err != nil {
		return nil, err
	}
	promoted, err := a.promotedSignatures(ctx)
	if err != nil {
		return nil, err
	}

	seenNames := make(map[string]bool)
	for _, id := range ids {
		if _, done := archived[id]; done {
			continue
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		a.mineSession(ctx, ex, id, promoted, seenNames, report)
	}

	a.pruneStale(ctx, report)

	report.DurationMS = time.Since(start).Milliseconds()
	a.publish(telemetry.EventArchivistRunComplete, map[string]any{
		"run_id":              report.RunID,
		"mode":                mode,
		"scanned":             report.Scanned,
		"patterns_found":      report.PatternsFound,
		"skills_promoted":     report.SkillsPromoted,
		"reflections_written": report.ReflectionsWritten,
		"trajectories_pruned": report.TrajectoriesPruned,
		"skills_pruned":       report.SkillsPruned,
		"duration_ms":         report.DurationMS,
	})
	a.logger.Info().
		Str("run_id", report.RunID).
		Str("mode", mode).
		Int("scanned", report.Scanned).
		Int("patterns", report.PatternsFound).
		Int("promoted", report.SkillsPromoted).
		Int64("duration_ms", report.DurationMS).
		Msg("archive run complete")
	return report, nil
}

// mineSession extracts and handles patterns for one trajectory. The session
// is marked processed even when extraction found nothing; a load or extract
// failure leaves it unmarked so the next run retries it.
func (a *Archivist) mineSession(ctx context.Context, ex Extractor, sessionID string,
	promoted, seenNames map[string]bool, report *Report) {

	t, err := a.trajectories.Load(sessionID)
	if err != nil {
		a.logger.Warn().Str("session_id", sessionID).Err(err).Msg("loading trajectory")
		return
	}
	patterns, err := ex.Extract(ctx, t)
	if err != nil {
		a.logger.Warn().Str("session_id", sessionID).Err(err).Msg("extracting patterns")
		return
	}

	taskID := taskIDForTrajectory(t)
	for _, p := range patterns {
		if p.Confidence < a.cfg.MinConfidence || p.Occurrences < a.cfg.MinOccurrences {
			continue
		}
		report.PatternsFound++
		a.publish(telemetry.EventArchivistPatternFound, map[string]any{
			"session_id":  sessionID,
			"name":        p.Name,
			"type":        p.Type,
			"confidence":  p.Confidence,
			"occurrences": p.Occurrences,
		})
		if err := a.handlePattern(ctx, sessionID, taskID, p, promoted, seenNames, report); err != nil {
			a.logger.Warn().
				Str("session_id", sessionID).
				Str("pattern", p.Name).
				Err(err).
				Msg("handling pattern")
		}
	}

	if err := a.db.MarkArchived(ctx, sessionID, report.RunID); err != nil {
		a.logger.Warn().Str("session_id", sessionID).Err(err).Msg("marking session archived")
	}
}

// handlePattern routes one accepted pattern by type.
func (a *Archivist) handlePattern(ctx context.Context, sessionID, taskID string, p Pattern,
	promoted, seenNames map[string]bool, report *Report) error {

	switch p.Type {
	case TypeSkill, TypeOptimization:
		nameKey := strings.ToLower(p.Name)
		if promoted[p.Signature] || seenNames[nameKey] {
			return nil
		}
		sk := &store.Skill{
			Name:        p.Name,
			Description: p.Description,
			Content:     p.Content,
			Category:    categoryFor(p.Type),
			Source:      store.SourceLearned,
			Status:      store.StatusActive,
			SuccessRate: p.Confidence,
			Tags:        []string{"pattern:" + p.Signature},
			LearnedFrom: []string{sessionID},
		}
		if err := a.db.CreateSkill(ctx, sk); err != nil {
			return err
		}
		promoted[p.Signature] = true
		seenNames[nameKey] = true
		report.SkillsPromoted++
		a.metrics.IncSkillPromoted()
		a.publish(telemetry.EventArchivistSkillPromoted, map[string]any{
			"skill_id": sk.ID,
			"name":     sk.Name,
			"category": sk.Category,
		})
		a.logger.Info().
			Str("skill_id", sk.ID).
			Str("name", sk.Name).
			Float64("confidence", p.Confidence).
			Msg("pattern promoted to skill")

		refl := &store.Reflection{
			EpisodeID:         sessionID,
			TaskID:            taskID,
			FailureType:       store.FailureOther,
			Description:       p.Description,
			Lesson:            p.Content,
			SuggestedApproach: p.Content,
			RelatedSkills:     []string{sk.ID},
		}
		if err := a.db.CreateReflection(ctx, refl); err != nil {
			return err
		}
		report.ReflectionsWritten++
		return nil

	case TypeFailure:
		refl := &store.Reflection{
			EpisodeID:   sessionID,
			TaskID:      taskID,
			FailureType: failureTypeFor(p),
			Description: p.Description,
			Lesson:      p.Content,
		}
		if err := a.db.CreateReflection(ctx, refl); err != nil {
			return err
		}
		report.ReflectionsWritten++
		return nil

	default:
		// Insights inform the HUD; nothing is persisted.
		return nil
	}
}

// promotedSignatures collects pattern signatures already represented in the
// skill store, so a re-mined pattern never promotes twice across runs.
func (a *Archivist) promotedSignatures(ctx context.Context) (map[string]bool, error) {
	skills, err := a.db.ListSkills(ctx, "")
	if err != nil {
		return nil, err
	}
	sigs := make(map[string]bool)
	for _, sk := range skills {
		for _, tag := range sk.Tags {
			if sig, ok := strings.CutPrefix(tag, "pattern:"); ok {
				sigs[sig] = true
			}
		}
	}
	return sigs, nil
}

// pruneStale drops trajectories past the age ceiling and learned skills that
// never got traction. Prune failures are logged, never fatal.
func (a *Archivist) pruneStale(ctx context.Context, report *Report) {
	if a.cfg.MaxTrajectoryAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.MaxTrajectoryAgeDays)
		ids, err := a.trajectories.List()
		if err != nil {
			a.logger.Warn().Err(err).Msg("listing trajectories for pruning")
		} else {
			for _, id := range ids {
				ts, ok := atif.SessionTime(id)
				if !ok || !ts.Before(cutoff) {
					continue
				}
				if err := a.trajectories.DeleteSessionFiles(id); err != nil {
					a.logger.Warn().Str("session_id", id).Err(err).Msg("pruning trajectory")
					continue
				}
				report.TrajectoriesPruned++
			}
		}
	}

	if a.cfg.SkillPruneAfterDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.SkillPruneAfterDays)
		n, err := a.db.PruneLearned(ctx, cutoff, a.cfg.SkillPruneMaxUsage)
		if err != nil {
			a.logger.Warn().Err(err).Msg("pruning learned skills")
		} else {
			report.SkillsPruned = n
			if ctx.Err() == nil && n > 0 {
				a.logger.Info().Int("pruned", n).Msg("stale learned skills removed")
			}
		}
	}
}

// taskIDForTrajectory recovers the benchmark task from the opening user
// message, which the task runner builds from the task description.
func taskIDForTrajectory(t *atif.Trajectory) string {
	var first string
	for _, s := range t.Steps {
		if s.Source == atif.StepSourceUser {
			first = s.Message
			break
		}
	}
	if first == "" {
		return ""
	}
	ids, err := decompose.Subset(decompose.SubsetTB89)
	if err != nil {
		return ""
	}
	for _, id := range ids {
		if task, ok := decompose.Task(id); ok && strings.HasPrefix(first, task.Description) {
			return id
		}
	}
	return ""
}

func categoryFor(patternType string) string {
	if patternType == TypeOptimization {
		return "optimization"
	}
	return "general"
}

// failureTypeFor maps a failure pattern onto the reflection taxonomy by its
// wording.
func failureTypeFor(p Pattern) string {
	text := strings.ToLower(p.Description + " " + p.Content)
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out"):
		return store.FailureTimeout
	case strings.Contains(text, "wrong output") || strings.Contains(text, "expected"):
		return store.FailureWrongOutput
	case strings.Contains(text, "error"):
		return store.FailureError
	default:
		return store.FailureOther
	}
}

func (a *Archivist) publish(eventType string, payload map[string]any) {
	a.bus.Publish(telemetry.NewEvent(eventType, payload))
}
