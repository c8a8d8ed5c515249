// Package dedupepg is a PostgreSQL-backed spool.DedupeIndex, grounded on
// the teacher's internal/server/storage/postgres.go pgxpool usage (New
// pings on open, Close releases the pool) adapted from the teacher's
// batched-alert-insert store down to the simpler single-row upsert/lookup
// shape this index needs.
package dedupepg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"peaccore/internal/spool"
)

// Index is a PostgreSQL-backed spool.DedupeIndex.
type Index struct {
	pool *pgxpool.Pool
}

// Open connects to connStr, pings the database, and applies the dedupe
// schema via Migrate.
func Open(ctx context.Context, connStr string) (*Index, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("dedupepg: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dedupepg: ping: %w", err)
	}
	idx := &Index{pool: pool}
	if err := idx.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Migrate applies the dedupe_entries schema. It is idempotent and safe to
// call on every startup. The schema is a single inline CREATE TABLE IF NOT
// EXISTS statement rather than embedded migration files or a separate
// migration binary, since this schema never evolves independently of the
// package.
func (idx *Index) Migrate(ctx context.Context) error {
	_, err := idx.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dedupe_entries (
			action_id    TEXT PRIMARY KEY,
			sequence     BIGINT NOT NULL,
			entry_digest TEXT NOT NULL,
			captured_at  TIMESTAMPTZ NOT NULL,
			emitted      BOOLEAN NOT NULL DEFAULT FALSE
		)`)
	if err != nil {
		return fmt.Errorf("dedupepg: migrate: %w", err)
	}
	return nil
}

var _ spool.DedupeIndex = (*Index)(nil)

func (idx *Index) Get(ctx context.Context, actionID string) (spool.DedupeEntry, bool, error) {
	var e spool.DedupeEntry
	err := idx.pool.QueryRow(ctx,
		`SELECT sequence, entry_digest, captured_at, emitted FROM dedupe_entries WHERE action_id = $1`,
		actionID).Scan(&e.Sequence, &e.EntryDigest, &e.CapturedAt, &e.Emitted)
	if err != nil {
		if err == pgx.ErrNoRows {
			return spool.DedupeEntry{}, false, nil
		}
		return spool.DedupeEntry{}, false, fmt.Errorf("dedupepg: get: %w", err)
	}
	return e, true, nil
}

func (idx *Index) Set(ctx context.Context, actionID string, entry spool.DedupeEntry) error {
	_, err := idx.pool.Exec(ctx, `
		INSERT INTO dedupe_entries (action_id, sequence, entry_digest, captured_at, emitted)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (action_id) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			entry_digest = EXCLUDED.entry_digest,
			captured_at = EXCLUDED.captured_at,
			emitted = EXCLUDED.emitted`,
		actionID, entry.Sequence, entry.EntryDigest, entry.CapturedAt, entry.Emitted)
	if err != nil {
		return fmt.Errorf("dedupepg: set: %w", err)
	}
	return nil
}

func (idx *Index) Has(ctx context.Context, actionID string) (bool, error) {
	var count int
	err := idx.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dedupe_entries WHERE action_id = $1`, actionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("dedupepg: has: %w", err)
	}
	return count > 0, nil
}

func (idx *Index) MarkEmitted(ctx context.Context, actionID string) error {
	tag, err := idx.pool.Exec(ctx, `UPDATE dedupe_entries SET emitted = TRUE WHERE action_id = $1`, actionID)
	if err != nil {
		return fmt.Errorf("dedupepg: mark_emitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dedupepg: mark_emitted: no entry for action id %s", actionID)
	}
	return nil
}

func (idx *Index) Delete(ctx context.Context, actionID string) error {
	if _, err := idx.pool.Exec(ctx, `DELETE FROM dedupe_entries WHERE action_id = $1`, actionID); err != nil {
		return fmt.Errorf("dedupepg: delete: %w", err)
	}
	return nil
}

func (idx *Index) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := idx.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dedupe_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("dedupepg: size: %w", err)
	}
	return count, nil
}

func (idx *Index) Clear(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, `DELETE FROM dedupe_entries`); err != nil {
		return fmt.Errorf("dedupepg: clear: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (idx *Index) Close() {
	idx.pool.Close()
}
