package capture_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"peaccore/internal/capture"
	"peaccore/internal/spool"
)

func mustAction(id string) spool.CapturedAction {
	return spool.CapturedAction{
		ID:        id,
		Kind:      "tool.call",
		Platform:  "test",
		StartedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openStore(t *testing.T, opts spool.Options) *spool.Store {
	t.Helper()
	s, err := spool.Open(opts)
	if err != nil {
		t.Fatalf("spool.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_FreshChain(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson")})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)

	res := sess.Capture(context.Background(), mustAction("a1"))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Entry.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", res.Entry.Sequence)
	}
	if res.Entry.PrevEntryDigest != spool.GenesisDigest {
		t.Fatalf("prev_entry_digest = %s, want genesis", res.Entry.PrevEntryDigest)
	}

	size, _ := dedupe.Size(context.Background())
	if size != 1 {
		t.Fatalf("dedupe size = %d, want 1", size)
	}
}

func TestSession_Duplicate(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson")})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)

	ctx := context.Background()
	if res := sess.Capture(ctx, mustAction("a1")); !res.Success {
		t.Fatalf("first capture failed: %+v", res)
	}
	res := sess.Capture(ctx, mustAction("a1"))
	if res.Success {
		t.Fatal("expected duplicate capture to fail")
	}
	if res.Code != capture.ErrDuplicate {
		t.Fatalf("code = %s, want %s", res.Code, capture.ErrDuplicate)
	}
}

func TestSession_InvalidAction(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson")})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)

	res := sess.Capture(context.Background(), spool.CapturedAction{})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if res.Code != capture.ErrInvalidAction {
		t.Fatalf("code = %s, want %s", res.Code, capture.ErrInvalidAction)
	}
}

func TestSession_CapTrip_ReturnsStoreFailed(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson"), MaxEntries: 2})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)

	ctx := context.Background()
	sess.Capture(ctx, mustAction("a1"))
	sess.Capture(ctx, mustAction("a2"))
	res := sess.Capture(ctx, mustAction("a3"))
	if res.Success {
		t.Fatal("expected third capture to fail on cap trip")
	}
	if res.Code != capture.ErrStoreFailed {
		t.Fatalf("code = %s, want %s", res.Code, capture.ErrStoreFailed)
	}

	has, _ := dedupe.Has(ctx, "a3")
	if has {
		t.Fatal("dedupe index must not be written when append fails")
	}
}

func TestSession_ClosedSessionRejectsCapture(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson")})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)
	sess.Close()

	res := sess.Capture(context.Background(), mustAction("a1"))
	if res.Success {
		t.Fatal("expected capture on closed session to fail")
	}
	if res.Code != capture.ErrSessionClosed {
		t.Fatalf("code = %s, want %s", res.Code, capture.ErrSessionClosed)
	}
}

func TestSession_CapturedAtIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, spool.Options{FilePath: filepath.Join(dir, "spool.ndjson")})
	dedupe := spool.NewMemoryDedupeIndex()
	sess := capture.New(store, dedupe)

	action := mustAction("a1")
	res := sess.Capture(context.Background(), action)
	if !res.Success {
		t.Fatalf("capture failed: %+v", res)
	}
	if !res.Entry.CapturedAt.Equal(action.StartedAt) {
		t.Fatalf("captured_at = %v, want started_at %v", res.Entry.CapturedAt, action.StartedAt)
	}
}
