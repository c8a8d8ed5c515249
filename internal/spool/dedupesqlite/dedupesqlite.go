// Package dedupesqlite is a WAL-mode SQLite-backed spool.DedupeIndex,
// grounded on the teacher's internal/queue/sqlite_queue.go: single
// connection (SQLite allows one writer), WAL journal mode, synchronous =
// NORMAL, idempotent schema application.
package dedupesqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"peaccore/internal/spool"
)

// Index is a SQLite-backed spool.DedupeIndex.
type Index struct {
	db *sql.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS dedupe_entries (
    action_id    TEXT    PRIMARY KEY,
    sequence     INTEGER NOT NULL,
    entry_digest TEXT    NOT NULL,
    captured_at  TEXT    NOT NULL,
    emitted      INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (or creates) the SQLite database at path and applies the
// dedupe schema. path may be ":memory:" for tests.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dedupesqlite: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedupesqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedupesqlite: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedupesqlite: apply schema: %w", err)
	}

	return &Index{db: db}, nil
}

var _ spool.DedupeIndex = (*Index)(nil)

func (idx *Index) Get(ctx context.Context, actionID string) (spool.DedupeEntry, bool, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT sequence, entry_digest, captured_at, emitted FROM dedupe_entries WHERE action_id = ?`, actionID)

	var e spool.DedupeEntry
	var capturedAtStr string
	var emitted int
	if err := row.Scan(&e.Sequence, &e.EntryDigest, &capturedAtStr, &emitted); err != nil {
		if err == sql.ErrNoRows {
			return spool.DedupeEntry{}, false, nil
		}
		return spool.DedupeEntry{}, false, fmt.Errorf("dedupesqlite: get: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, capturedAtStr)
	if err != nil {
		return spool.DedupeEntry{}, false, fmt.Errorf("dedupesqlite: parse captured_at: %w", err)
	}
	e.CapturedAt = ts
	e.Emitted = emitted != 0
	return e, true, nil
}

func (idx *Index) Set(ctx context.Context, actionID string, entry spool.DedupeEntry) error {
	emitted := 0
	if entry.Emitted {
		emitted = 1
	}
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO dedupe_entries (action_id, sequence, entry_digest, captured_at, emitted)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(action_id) DO UPDATE SET
		   sequence = excluded.sequence,
		   entry_digest = excluded.entry_digest,
		   captured_at = excluded.captured_at,
		   emitted = excluded.emitted`,
		actionID, entry.Sequence, entry.EntryDigest, entry.CapturedAt.UTC().Format(time.RFC3339Nano), emitted)
	if err != nil {
		return fmt.Errorf("dedupesqlite: set: %w", err)
	}
	return nil
}

func (idx *Index) Has(ctx context.Context, actionID string) (bool, error) {
	var count int
	err := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dedupe_entries WHERE action_id = ?`, actionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("dedupesqlite: has: %w", err)
	}
	return count > 0, nil
}

func (idx *Index) MarkEmitted(ctx context.Context, actionID string) error {
	result, err := idx.db.ExecContext(ctx,
		`UPDATE dedupe_entries SET emitted = 1 WHERE action_id = ?`, actionID)
	if err != nil {
		return fmt.Errorf("dedupesqlite: mark_emitted: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dedupesqlite: mark_emitted: no entry for action id %s", actionID)
	}
	return nil
}

func (idx *Index) Delete(ctx context.Context, actionID string) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM dedupe_entries WHERE action_id = ?`, actionID); err != nil {
		return fmt.Errorf("dedupesqlite: delete: %w", err)
	}
	return nil
}

func (idx *Index) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedupe_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("dedupesqlite: size: %w", err)
	}
	return count, nil
}

func (idx *Index) Clear(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM dedupe_entries`); err != nil {
		return fmt.Errorf("dedupesqlite: clear: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}
