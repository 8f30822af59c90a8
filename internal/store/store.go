// Package store is the durable backing for fivex runs: a single-writer
// SQLite database recording plans, runs, agent results, quality results,
// the append-only run event log, and per-phase review/approval state. All
// resumability guarantees the orchestrator relies on come from this
// package alone.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const migrationsDir = "migrations"

// Store wraps a single SQLite connection serialized to one open connection,
// per the "multi-process access unsupported" invariant: fivex assumes at
// most one process drives a given database file at a time.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, applies
// any pending migrations, and verifies the schema is not newer than this
// binary understands.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	return &Store{db: db}, nil
}

// migrate applies pending goose migrations and enforces the
// schema-too-new invariant.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}

	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("store: collect migrations: %w", err)
	}
	latest := migrations[len(migrations)-1].Version

	dbVersion, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("store: get db version: %w", err)
	}
	if dbVersion > latest {
		return fmt.Errorf("%w: db at %d, binary knows up to %d", ErrSchemaTooNew, dbVersion, latest)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("store: apply migrations: %w", err)
	}

	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("store: reset schema_version: %w", err)
	}
	dbVersion, err = goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("store: get db version after migrate: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		dbVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store: record schema_version: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry wraps fn in an exponential backoff retry loop, for the
// multi-statement transactions where a transient SQLITE_BUSY from a
// WAL-mode concurrent reader can surface despite the busy_timeout pragma.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "database is locked") || contains(msg, "SQLITE_BUSY") || contains(msg, "busy")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
