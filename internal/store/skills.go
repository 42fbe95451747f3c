package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Skill sources and statuses.
const (
	SourceBootstrap = "bootstrap"
	SourceLearned   = "learned"
	SourceUser      = "user"

	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Skill is a reusable strategy the archivist extracted or a user seeded.
type Skill struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	Category    string     `json:"category"`
	Source      string     `json:"source"`
	UsageCount  int        `json:"usage_count"`
	SuccessRate float64    `json:"success_rate"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags"`
	LearnedFrom []string   `json:"learned_from"` // episode/session ids
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

const skillColumns = `id, name, description, content, category, source,
	usage_count, success_rate, status, tags, learned_from,
	created_at, updated_at, last_used_at`

// CreateSkill inserts a skill, assigning an id and timestamps when missing.
func (s *Store) CreateSkill(ctx context.Context, sk *Skill) error {
	if sk.ID == "" {
		sk.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = now
	}
	sk.UpdatedAt = now
	if sk.Category == "" {
		sk.Category = "general"
	}
	if sk.Source == "" {
		sk.Source = SourceLearned
	}
	if sk.Status == "" {
		sk.Status = StatusDraft
	}

	tags, learnedFrom := marshalList(sk.Tags), marshalList(sk.LearnedFrom)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, content, category, source,
			usage_count, success_rate, status, tags, learned_from, created_at, updated_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.Name, sk.Description, sk.Content, sk.Category, sk.Source,
		sk.UsageCount, sk.SuccessRate, sk.Status, tags, learnedFrom,
		sk.CreatedAt, sk.UpdatedAt, nullableTime(sk.LastUsedAt))
	if err != nil {
		return wrapErr(ReasonInsert, "create skill", err)
	}
	return nil
}

// GetSkill loads one skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (*Skill, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = ?`, id)
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, wrapErr(ReasonNotFound, "get skill", err)
	}
	if err != nil {
		return nil, wrapErr(ReasonQuery, "get skill", err)
	}
	return sk, nil
}

// UpdateSkill rewrites the mutable fields of a skill.
func (s *Store) UpdateSkill(ctx context.Context, sk *Skill) error {
	sk.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE skills SET name = ?, description = ?, content = ?, category = ?,
			status = ?, tags = ?, learned_from = ?, updated_at = ?
		WHERE id = ?`,
		sk.Name, sk.Description, sk.Content, sk.Category,
		sk.Status, marshalList(sk.Tags), marshalList(sk.LearnedFrom), sk.UpdatedAt, sk.ID)
	if err != nil {
		return wrapErr(ReasonQuery, "update skill", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapErr(ReasonNotFound, "update skill", sql.ErrNoRows)
	}
	return nil
}

// DeleteSkill removes a skill.
func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id)
	if err != nil {
		return wrapErr(ReasonQuery, "delete skill", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapErr(ReasonNotFound, "delete skill", sql.ErrNoRows)
	}
	return nil
}

// ListSkills returns skills, optionally filtered by status.
func (s *Store) ListSkills(ctx context.Context, status string) ([]*Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "list skills", err)
	}
	defer rows.Close()

	var skills []*Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, wrapErr(ReasonQuery, "list skills", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// Active returns the active skill set injected into agent prompts.
func (s *Store) Active(ctx context.Context) ([]*Skill, error) {
	return s.ListSkills(ctx, StatusActive)
}

// RecordUse folds one usage outcome into a skill's rolling success rate.
func (s *Store) RecordUse(ctx context.Context, id string, success bool) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE skills SET
			success_rate = (success_rate * usage_count + ?) / (usage_count + 1),
			usage_count = usage_count + 1,
			last_used_at = ?,
			updated_at = ?
		WHERE id = ?`,
		boolToInt(success), now, now, id)
	if err != nil {
		return wrapErr(ReasonQuery, "record skill use", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapErr(ReasonNotFound, "record skill use", sql.ErrNoRows)
	}
	return nil
}

// PruneLearned deletes learned skills created before cutoff that never got
// traction (usage_count below maxUsage). Bootstrap and user skills are never
// pruned. Returns the number removed.
func (s *Store) PruneLearned(ctx context.Context, cutoff time.Time, maxUsage int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM skills
		WHERE source = ? AND created_at < ? AND usage_count < ?`,
		SourceLearned, cutoff.UTC(), maxUsage)
	if err != nil {
		return 0, wrapErr(ReasonQuery, "prune learned skills", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row rowScanner) (*Skill, error) {
	var sk Skill
	var tags, learnedFrom string
	var lastUsed sql.NullTime
	err := row.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Content, &sk.Category, &sk.Source,
		&sk.UsageCount, &sk.SuccessRate, &sk.Status, &tags, &learnedFrom,
		&sk.CreatedAt, &sk.UpdatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	sk.Tags = unmarshalList(tags)
	sk.LearnedFrom = unmarshalList(learnedFrom)
	if lastUsed.Valid {
		t := lastUsed.Time
		sk.LastUsedAt = &t
	}
	return &sk, nil
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
