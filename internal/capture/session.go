// Package capture implements the serialised capture pipeline (spec §4.4):
// validate, dedupe-check, hash, chain, append, mark. It is grounded on the
// teacher's internal/agent/agent.go orchestrator — functional-options
// construction, an injected *slog.Logger, and a single critical section that
// linearises state transitions — adapted from "fan in watcher events" to
// "serialise one capture at a time against one spool".
package capture

import (
	"context"
	"log/slog"
	"sync"

	"peaccore/internal/canon"
	"peaccore/internal/spool"
)

// Failure codes (spec §4.4).
const (
	ErrInvalidAction = "E_CAPTURE_INVALID_ACTION"
	ErrDuplicate     = "E_CAPTURE_DUPLICATE"
	ErrHashFailed    = "E_CAPTURE_HASH_FAILED"
	ErrStoreFailed   = "E_CAPTURE_STORE_FAILED"
	ErrSessionClosed = "E_CAPTURE_SESSION_CLOSED"
	ErrInternal      = "E_CAPTURE_INTERNAL"
)

// Result is the outcome of a single capture call. Capture never returns a Go
// error; every failure path is represented here so the serialisation queue
// never unwinds on an expected condition.
type Result struct {
	Success bool
	Entry   spool.SpoolEntry
	Code    string
	Message string
}

// Store is the subset of *spool.Store the session depends on.
type Store interface {
	HeadDigest() string
	Sequence() int64
	Append(entry spool.SpoolEntry) error
}

// Session exposes the single capture(action) method described in spec §4.4.
// Operations 5-9 of the pipeline run under one mutex per session, which is
// the "short-held mutex around the critical section" the design notes (§9)
// call out as the systems-language rendering of the source's promise-chain
// queue.
type Session struct {
	store           Store
	dedupe          spool.DedupeIndex
	truncThreshold  canon.TruncThreshold
	logger          *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option is a functional option for Session construction.
type Option func(*Session)

// WithLogger injects a *slog.Logger; captures never log on their own
// initiative except through this sink.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTruncThreshold overrides the default 64 KiB truncation threshold used
// when hashing input/output bytes.
func WithTruncThreshold(t canon.TruncThreshold) Option {
	return func(s *Session) { s.truncThreshold = t }
}

// New constructs a Session bound to store and dedupe. Both are required; the
// session is the sole writer to each (spec §3 "Ownership").
func New(store Store, dedupe spool.DedupeIndex, opts ...Option) *Session {
	s := &Session{
		store:          store,
		dedupe:         dedupe,
		truncThreshold: canon.Trunc64KiB,
		logger:         slog.New(slog.NewTextHandler(nopWriter{}, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture runs the full pipeline for one action and never panics or returns
// a Go error: every failure, expected or not, is reported as a Result with
// Success=false (spec §4.4 "capture must never throw").
func (s *Session) Capture(ctx context.Context, action spool.CapturedAction) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture: recovered panic", slog.Any("panic", r))
			result = Result{Code: ErrInternal, Message: "internal error during capture"}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{Code: ErrSessionClosed, Message: "capture session is closed"}
	}

	if err := action.Validate(); err != nil {
		return Result{Code: ErrInvalidAction, Message: err.Error()}
	}

	has, err := s.dedupe.Has(ctx, action.ID)
	if err != nil {
		return Result{Code: ErrStoreFailed, Message: "dedupe lookup failed: " + err.Error()}
	}
	if has {
		return Result{Code: ErrDuplicate, Message: "action.id already captured: " + action.ID}
	}

	var inputDigest, outputDigest *canon.Digest
	if len(action.InputBytes) > 0 {
		d, err := canon.ComputeDigest(action.InputBytes, s.truncThreshold)
		if err != nil {
			return Result{Code: ErrHashFailed, Message: "hashing input_bytes: " + err.Error()}
		}
		inputDigest = &d
	}
	if len(action.OutputBytes) > 0 {
		d, err := canon.ComputeDigest(action.OutputBytes, s.truncThreshold)
		if err != nil {
			return Result{Code: ErrHashFailed, Message: "hashing output_bytes: " + err.Error()}
		}
		outputDigest = &d
	}

	head := s.store.HeadDigest()
	nextSeq := s.store.Sequence() + 1

	stripped := action
	stripped.InputBytes = nil
	stripped.OutputBytes = nil

	entry := spool.SpoolEntry{
		CapturedAt:      action.CapturedAtDerived(),
		Action:          stripped,
		InputDigest:     inputDigest,
		OutputDigest:    outputDigest,
		PrevEntryDigest: head,
		Sequence:        nextSeq,
	}

	digest, err := spool.ComputeEntryDigest(entry)
	if err != nil {
		return Result{Code: ErrHashFailed, Message: "computing entry_digest: " + err.Error()}
	}
	entry.EntryDigest = digest

	if err := s.store.Append(entry); err != nil {
		return Result{Code: ErrStoreFailed, Message: err.Error()}
	}

	dedupeEntry := spool.DedupeEntry{
		Sequence:    entry.Sequence,
		EntryDigest: entry.EntryDigest,
		CapturedAt:  entry.CapturedAt,
	}
	if err := s.dedupe.Set(ctx, action.ID, dedupeEntry); err != nil {
		// The append already committed; per spec §5 "dedupe-after-append"
		// the worst outcome on a dedupe write failure is a future
		// duplicate capture of the same action, never a silent drop.
		s.logger.Warn("capture: dedupe write failed after successful append",
			slog.String("action_id", action.ID), slog.Any("error", err))
	}

	return Result{Success: true, Entry: entry}
}

// Close marks the session closed; subsequent Capture calls return
// E_CAPTURE_SESSION_CLOSED. Close does not close the underlying store or
// dedupe index, which the caller owns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
