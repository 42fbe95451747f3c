package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gym.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gym.db")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.CreateSkill(context.Background(), &Skill{Name: "keep me"}))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	skills, err := s.ListSkills(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, skills, 1)
}

func TestSkillLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sk := &Skill{
		Name:        "read before edit",
		Description: "always read a file before editing it",
		Content:     "Call read_file on the target before any edit_file.",
		Category:    "file-io",
		Source:      SourceLearned,
		Tags:        []string{"editing", "safety"},
		LearnedFrom: []string{"session-2026-01-02T03-04-05-abc123"},
	}
	require.NoError(t, s.CreateSkill(ctx, sk))
	require.NotEmpty(t, sk.ID)
	assert.Equal(t, StatusDraft, sk.Status)

	got, err := s.GetSkill(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, "read before edit", got.Name)
	assert.Equal(t, []string{"editing", "safety"}, got.Tags)
	assert.Equal(t, []string{"session-2026-01-02T03-04-05-abc123"}, got.LearnedFrom)
	assert.Nil(t, got.LastUsedAt)

	got.Status = StatusActive
	got.Description = "updated"
	require.NoError(t, s.UpdateSkill(ctx, got))

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "updated", active[0].Description)

	require.NoError(t, s.DeleteSkill(ctx, sk.ID))
	_, err = s.GetSkill(ctx, sk.ID)
	assert.True(t, IsNotFound(err))
}

func TestRecordUseRollsSuccessRate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sk := &Skill{Name: "s"}
	require.NoError(t, s.CreateSkill(ctx, sk))

	require.NoError(t, s.RecordUse(ctx, sk.ID, true))
	require.NoError(t, s.RecordUse(ctx, sk.ID, true))
	require.NoError(t, s.RecordUse(ctx, sk.ID, false))

	got, err := s.GetSkill(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UsageCount)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate, 1e-9)
	require.NotNil(t, got.LastUsedAt)

	err = s.RecordUse(ctx, "missing", true)
	assert.True(t, IsNotFound(err))
}

func TestPruneLearnedSparesBootstrapAndUsed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	stale := &Skill{Name: "stale", Source: SourceLearned, CreatedAt: old}
	bootstrap := &Skill{Name: "seeded", Source: SourceBootstrap, CreatedAt: old}
	used := &Skill{Name: "used", Source: SourceLearned, CreatedAt: old, UsageCount: 5}
	fresh := &Skill{Name: "fresh", Source: SourceLearned}
	for _, sk := range []*Skill{stale, bootstrap, used, fresh} {
		require.NoError(t, s.CreateSkill(ctx, sk))
	}

	n, err := s.PruneLearned(ctx, time.Now().UTC().Add(-7*24*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	skills, err := s.ListSkills(ctx, "")
	require.NoError(t, err)
	names := make([]string, 0, len(skills))
	for _, sk := range skills {
		names = append(names, sk.Name)
	}
	assert.ElementsMatch(t, []string{"seeded", "used", "fresh"}, names)
}

func TestReflections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Reflection{
		EpisodeID:         "ep-1",
		TaskID:            "regex-log",
		FailureType:       FailureWrongOutput,
		Description:       "regex missed ISO dates at line starts",
		Lesson:            "anchor with MULTILINE",
		SuggestedApproach: "use ^ with re.MULTILINE",
		RelatedSkills:     []string{"skill-1"},
	}
	require.NoError(t, s.CreateReflection(ctx, r))
	require.NoError(t, s.CreateReflection(ctx, &Reflection{EpisodeID: "ep-2", TaskID: "other-task"}))

	got, err := s.ReflectionsForTask(ctx, "regex-log", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "anchor with MULTILINE", got[0].Lesson)
	assert.Equal(t, []string{"skill-1"}, got[0].RelatedSkills)
}

func TestTaskConfigUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetTaskConfig(ctx, "regex-log")
	assert.True(t, IsNotFound(err))

	turns := 15
	cfg := &TaskConfig{TaskID: "regex-log", Hint: "first hint", UseSkills: true, MaxTurnsOverride: &turns, ConfigHash: "abc"}
	require.NoError(t, s.SaveTaskConfig(ctx, cfg))

	cfg.Hint = "second hint"
	cfg.MaxTurnsOverride = nil
	cfg.ConfigHash = "def"
	require.NoError(t, s.SaveTaskConfig(ctx, cfg))

	got, err := s.GetTaskConfig(ctx, "regex-log")
	require.NoError(t, err)
	assert.Equal(t, "second hint", got.Hint)
	assert.True(t, got.UseSkills)
	assert.Nil(t, got.MaxTurnsOverride)
	assert.Equal(t, "def", got.ConfigHash)
}

func TestRunsNumberingAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.NextRunNumber(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 1; i <= 7; i++ {
		run := &Run{
			TaskID:     "t1",
			Passed:     i%2 == 0,
			Turns:      10 + i,
			ConfigHash: "h",
			Hint:       fmt.Sprintf("hint %d", i),
		}
		if i == 3 {
			run.ErrorMessage = "file not found: /app/out.txt"
		}
		require.NoError(t, s.RecordRun(ctx, run))
		assert.Equal(t, i, run.RunNumber)
	}

	tried, err := s.HintTried(ctx, "t1", "hint 4")
	require.NoError(t, err)
	assert.True(t, tried)
	tried, err = s.HintTried(ctx, "t1", "never proposed")
	require.NoError(t, err)
	assert.False(t, tried)

	require.NoError(t, s.UpdateBest(ctx, "t1", "hint 4"))
	best, err := s.Best(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hint 4", best.Hint)
	assert.Equal(t, 1.0, best.Score)

	h, err := s.History(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 7, h.TotalRuns)
	assert.Equal(t, 3, h.TotalPasses)
	assert.InDelta(t, 3.0/7.0, h.PassRate, 1e-9)
	assert.Equal(t, "hint 4", h.BestHint)
	require.Len(t, h.TriedHints, 5)
	assert.Equal(t, "hint 7", h.TriedHints[0])
	require.Len(t, h.Recent, 5)
	assert.Equal(t, 7, h.Recent[0].RunNumber)
	assert.Equal(t, 3, h.Recent[4].RunNumber)
	assert.Equal(t, "file not found: /app/out.txt", h.Recent[4].ErrorMessage)
}

func TestUpdateBestKeepsHigherScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, &Run{TaskID: "t", Passed: true, ConfigHash: "h", Hint: "good"}))
	require.NoError(t, s.UpdateBest(ctx, "t", "good"))

	require.NoError(t, s.RecordRun(ctx, &Run{TaskID: "t", Passed: true, ConfigHash: "h", Hint: "mixed"}))
	require.NoError(t, s.RecordRun(ctx, &Run{TaskID: "t", Passed: false, ConfigHash: "h", Hint: "mixed"}))
	require.NoError(t, s.UpdateBest(ctx, "t", "mixed"))

	best, err := s.Best(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "good", best.Hint)
	assert.Equal(t, 1.0, best.Score)
}

func TestWeightsSeededAndTunable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.Weights(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights[WeightAntiCheat], w[WeightAntiCheat])
	assert.Len(t, w, len(DefaultWeights))

	require.NoError(t, s.SetWeight(ctx, WeightAntiCheat, 3.5))
	w, err = s.Weights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.5, w[WeightAntiCheat])
}

func TestWeightsSurviveTuningAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gym.db")
	ctx := context.Background()

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SetWeight(ctx, WeightTestCount, 0.5))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	w, err := s.Weights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, w[WeightTestCount])
}

func TestArchiveMarks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.IsArchived(ctx, "session-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkArchived(ctx, "session-a", "run-1"))
	require.NoError(t, s.MarkArchived(ctx, "session-a", "run-2")) // idempotent
	require.NoError(t, s.MarkArchived(ctx, "session-b", "run-2"))

	ok, err = s.IsArchived(ctx, "session-a")
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := s.ArchivedSet(ctx)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	_, has := set["session-b"]
	assert.True(t, has)
}
