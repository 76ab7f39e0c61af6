// Package history persists finished playbacks in a local sqlite database, so
// host applications can show a "recently played" list without keeping their
// own books.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded playback.
type Entry struct {
	ID              int64
	Locator         string
	StartedAt       time.Time
	PlayedSeconds   float64
	DurationSeconds float64
	Reason          string
}

// Store is a sqlite-backed playback history.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// sqlite allows one writer; a second connection would just contend.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS playbacks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	locator TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	played_seconds REAL NOT NULL,
	duration_seconds REAL NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_playbacks_started_at ON playbacks(started_at);
`

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // the fn error is the one that matters
		return err
	}
	return tx.Commit()
}

// Record stores one finished playback.
func (s *Store) Record(ctx context.Context, e Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO playbacks (locator, started_at, played_seconds, duration_seconds, reason)
VALUES (?, ?, ?, ?, ?)`,
			e.Locator, e.StartedAt.UTC(), e.PlayedSeconds, e.DurationSeconds, e.Reason)
		if err != nil {
			return fmt.Errorf("history: record %s: %w", e.Locator, err)
		}
		return nil
	})
}

// Recent returns the latest playbacks, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, locator, started_at, played_seconds, duration_seconds, reason
FROM playbacks
ORDER BY started_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Locator, &e.StartedAt, &e.PlayedSeconds, &e.DurationSeconds, &e.Reason); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
