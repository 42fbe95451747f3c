// Package store is the SQLite persistence layer: skills, reflections,
// hill-climber configs and runs, test-generator score weights, and archive
// marks. One database file per workspace at .openagents/gym.db.
//
// The database runs WAL with a single connection per process; statements get
// their own implicit transactions. All cross-process coordination happens at
// this layer, the callers never share connections.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Reason classifies a store failure.
type Reason string

const (
	ReasonConnection Reason = "connection"
	ReasonQuery      Reason = "query"
	ReasonInsert     Reason = "insert"
	ReasonNotFound   Reason = "not_found"
	ReasonMigration  Reason = "migration"
)

// Error carries the failure class and the operation that hit it.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s (%s): %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("store %s (%s)", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a store not_found error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Reason == ReasonNotFound
}

func wrapErr(reason Reason, op string, err error) *Error {
	return &Error{Reason: reason, Op: op, Err: err}
}

// Store wraps the workspace database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path, applies pragmas and
// migrations, and seeds default configuration rows.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr(ReasonConnection, "open", err)
	}
	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn between the loop, climber, and archivist.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrapErr(ReasonConnection, "pragma", err)
		}
	}

	s := &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seedWeights(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for one-off queries in tests.
func (s *Store) DB() *sql.DB { return s.db }

// migrate applies the embedded schema through a schema_version gate so
// re-opening an existing database is a no-op.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return wrapErr(ReasonMigration, "create schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return wrapErr(ReasonMigration, "read schema_version", err)
	}

	if version < 1 {
		if _, err := s.db.Exec(schemaSQL); err != nil {
			return wrapErr(ReasonMigration, "apply schema v1", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return wrapErr(ReasonMigration, "record schema v1", err)
		}
		s.logger.Debug().Int("version", 1).Msg("schema applied")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
