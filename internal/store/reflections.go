package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Failure types for reflections.
const (
	FailureTimeout     = "timeout"
	FailureError       = "error"
	FailureWrongOutput = "wrong_output"
	FailureOther       = "other"
)

// Reflection records a lesson drawn from a failed or inefficient episode.
type Reflection struct {
	ID                string    `json:"id"`
	EpisodeID         string    `json:"episode_id"`
	TaskID            string    `json:"task_id"`
	FailureType       string    `json:"failure_type"`
	Description       string    `json:"description"`
	Lesson            string    `json:"lesson"`
	SuggestedApproach string    `json:"suggested_approach"`
	RelatedSkills     []string  `json:"related_skills"`
	CreatedAt         time.Time `json:"created_at"`
}

// CreateReflection inserts a reflection, assigning id and timestamp when
// missing.
func (s *Store) CreateReflection(ctx context.Context, r *Reflection) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.FailureType == "" {
		r.FailureType = FailureOther
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reflections (id, episode_id, task_id, failure_type,
			description, lesson, suggested_approach, related_skills, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EpisodeID, r.TaskID, r.FailureType,
		r.Description, r.Lesson, r.SuggestedApproach, marshalList(r.RelatedSkills), r.CreatedAt)
	if err != nil {
		return wrapErr(ReasonInsert, "create reflection", err)
	}
	return nil
}

// ReflectionsForTask returns the newest reflections for a task, newest first.
// limit <= 0 means all.
func (s *Store) ReflectionsForTask(ctx context.Context, taskID string, limit int) ([]*Reflection, error) {
	query := `
		SELECT id, episode_id, task_id, failure_type, description, lesson,
			suggested_approach, related_skills, created_at
		FROM reflections WHERE task_id = ? ORDER BY created_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "reflections for task", err)
	}
	defer rows.Close()

	var out []*Reflection
	for rows.Next() {
		var r Reflection
		var related string
		if err := rows.Scan(&r.ID, &r.EpisodeID, &r.TaskID, &r.FailureType,
			&r.Description, &r.Lesson, &r.SuggestedApproach, &related, &r.CreatedAt); err != nil {
			return nil, wrapErr(ReasonQuery, "reflections for task", err)
		}
		r.RelatedSkills = unmarshalList(related)
		out = append(out, &r)
	}
	return out, rows.Err()
}
