//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/spool/dedupepg/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package dedupepg_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"peaccore/internal/spool"
	"peaccore/internal/spool/dedupepg"
)

func setupIndex(t *testing.T) (*dedupepg.Index, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("peaccore_test"),
		tcpostgres.WithUsername("peaccore"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	idx, err := dedupepg.Open(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("dedupepg.Open: %v", err)
	}

	cleanup := func() {
		idx.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return idx, cleanup
}

func TestIndex_Lifecycle(t *testing.T) {
	idx, cleanup := setupIndex(t)
	defer cleanup()
	ctx := context.Background()

	has, err := idx.Has(ctx, "a1")
	if err != nil || has {
		t.Fatalf("Has before Set = %v, %v", has, err)
	}

	entry := spool.DedupeEntry{Sequence: 1, EntryDigest: "deadbeef", CapturedAt: time.Now().UTC().Truncate(time.Microsecond)}
	if err := idx.Set(ctx, "a1", entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	has, err = idx.Has(ctx, "a1")
	if err != nil || !has {
		t.Fatalf("Has after Set = %v, %v", has, err)
	}

	got, ok, err := idx.Get(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if got.Sequence != 1 || got.EntryDigest != "deadbeef" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if err := idx.MarkEmitted(ctx, "a1"); err != nil {
		t.Fatalf("MarkEmitted: %v", err)
	}
	got, _, _ = idx.Get(ctx, "a1")
	if !got.Emitted {
		t.Fatal("expected Emitted=true")
	}

	size, err := idx.Size(ctx)
	if err != nil || size != 1 {
		t.Fatalf("Size = %d, %v", size, err)
	}

	if err := idx.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	has, _ = idx.Has(ctx, "a1")
	if has {
		t.Fatal("expected no entry after Delete")
	}
}

func TestIndex_MarkEmittedUnknownFails(t *testing.T) {
	idx, cleanup := setupIndex(t)
	defer cleanup()

	if err := idx.MarkEmitted(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown action id")
	}
}

func TestIndex_SetUpsertsOnConflict(t *testing.T) {
	idx, cleanup := setupIndex(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	if err := idx.Set(ctx, "a2", spool.DedupeEntry{Sequence: 1, EntryDigest: "first", CapturedAt: base}); err != nil {
		t.Fatalf("Set (initial): %v", err)
	}
	if err := idx.Set(ctx, "a2", spool.DedupeEntry{Sequence: 2, EntryDigest: "second", CapturedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("Set (upsert): %v", err)
	}

	got, ok, err := idx.Get(ctx, "a2")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if got.Sequence != 2 || got.EntryDigest != "second" {
		t.Fatalf("expected upserted entry, got %+v", got)
	}

	size, err := idx.Size(ctx)
	if err != nil || size != 1 {
		t.Fatalf("Size after upsert = %d, %v, want 1", size, err)
	}
}

func TestIndex_Clear(t *testing.T) {
	idx, cleanup := setupIndex(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, id := range []string{"b1", "b2", "b3"} {
		if err := idx.Set(ctx, id, spool.DedupeEntry{Sequence: 1, EntryDigest: id, CapturedAt: now}); err != nil {
			t.Fatalf("Set(%s): %v", id, err)
		}
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	size, err := idx.Size(ctx)
	if err != nil || size != 0 {
		t.Fatalf("Size after Clear = %d, %v, want 0", size, err)
	}
}
