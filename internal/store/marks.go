package store

import (
	"context"
	"time"
)

// MarkArchived records that the archivist has processed a session.
// Idempotent; re-marking refreshes the timestamp and run id.
func (s *Store) MarkArchived(ctx context.Context, sessionID, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive_marks (session_id, archived_at, run_id)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			archived_at = excluded.archived_at,
			run_id = excluded.run_id`,
		sessionID, time.Now().UTC(), runID)
	if err != nil {
		return wrapErr(ReasonInsert, "mark archived", err)
	}
	return nil
}

// IsArchived reports whether a session was already processed.
func (s *Store) IsArchived(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM archive_marks WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, wrapErr(ReasonQuery, "is archived", err)
	}
	return n > 0, nil
}

// ArchivedSet returns all processed session ids for bulk filtering.
func (s *Store) ArchivedSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM archive_marks`)
	if err != nil {
		return nil, wrapErr(ReasonQuery, "archived set", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(ReasonQuery, "archived set", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
