package spool

import (
	"context"
	"sync"
	"time"
)

// DedupeEntry records the at-most-once marker for one action.id (spec §3,
// §4.3).
type DedupeEntry struct {
	Sequence    int64     `json:"sequence"`
	EntryDigest string    `json:"entry_digest"`
	CapturedAt  time.Time `json:"captured_at"`
	Emitted     bool      `json:"emitted"`
}

// DedupeIndex is the at-most-once index keyed by action.id (spec §4.3). All
// operations are async (ctx-aware) so that durable back-ends (SQLite,
// Postgres — see dedupesqlite/, dedupepg/) implement the same contract as
// the in-memory reference below.
type DedupeIndex interface {
	Get(ctx context.Context, actionID string) (DedupeEntry, bool, error)
	Set(ctx context.Context, actionID string, entry DedupeEntry) error
	Has(ctx context.Context, actionID string) (bool, error)
	MarkEmitted(ctx context.Context, actionID string) error
	Delete(ctx context.Context, actionID string) error
	Size(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// MemoryDedupeIndex is an in-process DedupeIndex, the reference
// implementation of the contract the sqlite/postgres back-ends also
// implement; each back-end has its own lifecycle tests of the same shape.
type MemoryDedupeIndex struct {
	mu      sync.RWMutex
	entries map[string]DedupeEntry
}

// NewMemoryDedupeIndex returns an empty in-memory DedupeIndex.
func NewMemoryDedupeIndex() *MemoryDedupeIndex {
	return &MemoryDedupeIndex{entries: make(map[string]DedupeEntry)}
}

func (m *MemoryDedupeIndex) Get(_ context.Context, actionID string) (DedupeEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[actionID]
	return e, ok, nil
}

func (m *MemoryDedupeIndex) Set(_ context.Context, actionID string, entry DedupeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[actionID] = entry
	return nil
}

func (m *MemoryDedupeIndex) Has(_ context.Context, actionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[actionID]
	return ok, nil
}

func (m *MemoryDedupeIndex) MarkEmitted(_ context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[actionID]
	if !ok {
		return errValidation("dedupe: no entry for action id " + actionID)
	}
	e.Emitted = true
	m.entries[actionID] = e
	return nil
}

func (m *MemoryDedupeIndex) Delete(_ context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, actionID)
	return nil
}

func (m *MemoryDedupeIndex) Size(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryDedupeIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]DedupeEntry)
	return nil
}
