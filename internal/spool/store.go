package spool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"peaccore/internal/canon"
)

// State is the spool store's lifecycle state (spec §4.2).
type State string

const (
	StateActive   State = "active"
	StateReadOnly State = "read_only"
)

// WarningFunc receives operator-facing warnings (incomplete-tail truncation,
// meta-file mismatch, stale lock break) without the store depending on any
// logging framework (spec §7).
type WarningFunc func(msg string)

// Options configures Open (spec §6 "Environment/configuration for the
// core").
type Options struct {
	FilePath             string
	MaxEntries           int64
	MaxFileBytes         int64
	MaxLineBytes         int
	AutoCommitIntervalMs int64
	OnWarning            WarningFunc
	AllowStaleLockBreak  bool
	StaleLockMaxAgeMs    int64
}

func (o *Options) setDefaults() {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 10 * 1024 * 1024
	}
	if o.OnWarning == nil {
		o.OnWarning = func(string) {}
	}
}

// Store is the tamper-evident, append-only, hash-chained spool (spec §4.2).
// Create one with Open; do not copy after first use.
type Store struct {
	mu   sync.Mutex
	opts Options
	file *os.File

	state       State
	head        string
	sequence    int64
	entryCount  int64
	fileBytes   int64
	corruptInfo *SpoolCorrupt

	closed bool
}

// Open opens (or creates) the spool at opts.FilePath, acquires the
// single-writer lock, and restores chain state either from the meta
// sidecar's fast path or a full recovery scan (spec §4.2 "Startup").
func Open(opts Options) (*Store, error) {
	opts.setDefaults()
	if opts.FilePath == "" {
		return nil, fmt.Errorf("spool: FilePath is required")
	}

	staleMaxAge := time.Duration(opts.StaleLockMaxAgeMs) * time.Millisecond
	if err := acquireLock(opts.FilePath, opts.AllowStaleLockBreak, staleMaxAge); err != nil {
		return nil, err
	}

	s := &Store{
		opts:  opts,
		state: StateActive,
		head:  GenesisDigest,
	}

	if err := s.restore(); err != nil {
		_ = releaseLock(opts.FilePath)
		return nil, err
	}

	f, err := os.OpenFile(opts.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		_ = releaseLock(opts.FilePath)
		return nil, fmt.Errorf("spool: open for appending %q: %w", opts.FilePath, err)
	}
	s.file = f

	return s, nil
}

// restore loads sequence/head/entryCount/fileBytes from the meta sidecar
// fast path, falling back to a full scan when the sidecar is missing or
// stale (spec §4.2 "Startup").
func (s *Store) restore() error {
	fi, statErr := os.Stat(s.opts.FilePath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil // fresh spool: genesis state
		}
		return fmt.Errorf("spool: stat %q: %w", s.opts.FilePath, statErr)
	}

	if m, err := readMeta(s.opts.FilePath); err == nil && metaTrustworthy(m, fi) {
		s.sequence = m.Sequence
		s.head = m.HeadDigest
		s.entryCount = m.EntryCount
		s.fileBytes = m.FileBytes
		return nil
	}

	return s.fullScan()
}

// fullScan streams the log line by line, verifying chain linkage and
// entry_digest for every line, and classifies the final anomaly (if any) as
// incomplete_tail (truncate + warn), or a corruption reason that puts the
// store into ReadOnly (spec §4.2).
func (s *Store) fullScan() error {
	f, err := os.Open(s.opts.FilePath)
	if err != nil {
		return fmt.Errorf("spool: open for scan %q: %w", s.opts.FilePath, err)
	}
	defer f.Close()

	head := GenesisDigest
	var sequence int64
	var entryCount int64
	var offset int64

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		lineStart := offset
		line, readErr := reader.ReadBytes('\n')
		hasNewline := len(line) > 0 && line[len(line)-1] == '\n'
		content := line
		if hasNewline {
			content = line[:len(line)-1]
		}
		offset += int64(len(line))

		if readErr != nil {
			if len(content) == 0 {
				break // clean EOF
			}
			// EOF without a trailing newline: an incomplete tail.
			s.opts.OnWarning(fmt.Sprintf("spool: incomplete last line at offset %d (Incomplete last line), truncating", lineStart))
			if err := s.truncateTo(lineStart); err != nil {
				return err
			}
			offset = lineStart
			break
		}
		if len(content) == 0 {
			continue
		}
		if len(content) > s.opts.MaxLineBytes {
			seq := sequence + 1
			s.markCorrupt(ReasonLineTooLarge, &seq, fmt.Sprintf("line at offset %d exceeds maxLineBytes %d", lineStart, s.opts.MaxLineBytes))
			s.sequence, s.head, s.entryCount, s.fileBytes = sequence, head, entryCount, lineStart
			return nil
		}

		var e SpoolEntry
		if err := json.Unmarshal(content, &e); err != nil {
			seq := sequence + 1
			s.markCorrupt(ReasonMalformedJSON, &seq, fmt.Sprintf("malformed JSON at offset %d: %v", lineStart, err))
			s.sequence, s.head, s.entryCount, s.fileBytes = sequence, head, entryCount, lineStart
			return nil
		}

		computed, err := ComputeEntryDigest(e)
		if err != nil {
			return fmt.Errorf("spool: recompute digest during scan: %w", err)
		}
		if computed != e.EntryDigest || e.PrevEntryDigest != head || e.Sequence != sequence+1 {
			s.markCorrupt(ReasonChainBroken, &e.Sequence, fmt.Sprintf("chain break at sequence %d", e.Sequence))
			s.sequence, s.head, s.entryCount, s.fileBytes = sequence, head, entryCount, lineStart
			return nil
		}

		head = e.EntryDigest
		sequence = e.Sequence
		entryCount++
	}

	s.sequence = sequence
	s.head = head
	s.entryCount = entryCount
	s.fileBytes = offset
	return nil
}

func (s *Store) markCorrupt(reason CorruptReason, atSeq *int64, details string) {
	s.state = StateReadOnly
	s.corruptInfo = &SpoolCorrupt{Reason: reason, CorruptAtSequence: atSeq, Details: details}
}

func (s *Store) truncateTo(offset int64) error {
	return os.Truncate(s.opts.FilePath, offset)
}

// State returns the store's current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HeadDigest returns the entry_digest of the most recent entry (or
// GenesisDigest if empty).
func (s *Store) HeadDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Sequence returns the sequence number of the most recent entry (0 if
// empty).
func (s *Store) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// CorruptInfo returns the recorded corruption reason, or nil if the store
// is not corrupt.
func (s *Store) CorruptInfo() *SpoolCorrupt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corruptInfo
}

// EntryCount returns the number of entries appended to the spool so far,
// whether or not they have been committed.
func (s *Store) EntryCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryCount
}

// FileBytes returns the number of bytes of intact, chained entries in the
// spool file. On a corrupt spool this is the offset where the corruption
// begins, not the size of the file.
func (s *Store) FileBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileBytes
}

// Append validates that entry extends the current head (sequence and
// prev_entry_digest), serialises it as JCS JSON + "\n", and writes it. Two
// hard caps (maxEntries, maxFileBytes) transition the store to ReadOnly and
// return SpoolFull when tripped (spec §4.2 "Append").
func (s *Store) Append(entry SpoolEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ErrClosed{}
	}
	if s.state == StateReadOnly {
		if s.corruptInfo != nil {
			return s.corruptInfo
		}
		return &SpoolFull{Unit: "entries", Current: s.entryCount, Max: s.opts.MaxEntries}
	}
	if entry.Sequence != s.sequence+1 {
		return &ErrChainMismatch{Detail: fmt.Sprintf("expected sequence %d, got %d", s.sequence+1, entry.Sequence)}
	}
	if entry.PrevEntryDigest != s.head {
		return &ErrChainMismatch{Detail: fmt.Sprintf("expected prev_entry_digest %s, got %s", s.head, entry.PrevEntryDigest)}
	}

	if s.opts.MaxEntries > 0 && s.entryCount+1 > s.opts.MaxEntries {
		s.state = StateReadOnly
		return &SpoolFull{Unit: "entries", Current: s.entryCount, Max: s.opts.MaxEntries}
	}

	line, err := canon.CanonicalizeDefault(entry)
	if err != nil {
		return fmt.Errorf("spool: canonicalize entry: %w", err)
	}
	if len(line) > s.opts.MaxLineBytes {
		return &ErrEntryTooLarge{Len: len(line), Max: s.opts.MaxLineBytes}
	}
	line = append(line, '\n')

	if s.opts.MaxFileBytes > 0 && s.fileBytes+int64(len(line)) > s.opts.MaxFileBytes {
		s.state = StateReadOnly
		return &SpoolFull{Unit: "bytes", Current: s.fileBytes, Max: s.opts.MaxFileBytes}
	}

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("spool: write entry: %w", err)
	}

	s.sequence = entry.Sequence
	s.head = entry.EntryDigest
	s.entryCount++
	s.fileBytes += int64(len(line))
	return nil
}

// Commit flushes and fsyncs the log and atomically rewrites the meta
// sidecar (spec §4.2 "Commit"). Committed entries survive a SIGKILL.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ErrClosed{}
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("spool: sync: %w", err)
	}
	fi, err := os.Stat(s.opts.FilePath)
	if err != nil {
		return fmt.Errorf("spool: stat for commit: %w", err)
	}
	m := metaFile{
		MetaVersion: metaVersion,
		Sequence:    s.sequence,
		HeadDigest:  s.head,
		EntryCount:  s.entryCount,
		FileBytes:   fi.Size(),
		MtimeMs:     fi.ModTime().UnixMilli(),
	}
	return writeMetaAtomic(s.opts.FilePath, m)
}

// Read streams entries starting at fromSequence (inclusive), up to limit
// entries (0 = unlimited), re-enforcing maxLineBytes on the read side (spec
// §4.2 "Read"). On a corrupt spool, reading stops where the corruption
// begins.
func (s *Store) Read(fromSequence int64, limit int) ([]SpoolEntry, error) {
	s.mu.Lock()
	path := s.opts.FilePath
	maxLine := s.opts.MaxLineBytes
	corrupt := s.corruptInfo != nil
	validBytes := s.fileBytes
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool: open for read %q: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if corrupt {
		src = io.LimitReader(f, validBytes)
	}

	var out []SpoolEntry
	scanner := bufio.NewScanner(src)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLine+1)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLine {
			return out, &ErrEntryTooLarge{Len: len(line), Max: maxLine}
		}
		var e SpoolEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return out, fmt.Errorf("spool: read: malformed entry: %w", err)
		}
		if e.Sequence < fromSequence {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("spool: read: scanning %q: %w", path, err)
	}
	return out, nil
}

// Close flushes, syncs, closes the file, and releases the single-writer
// lock. Close is idempotent and safe under double-close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var syncErr error
	if s.file != nil {
		syncErr = s.file.Sync()
		_ = s.file.Close()
	}
	lockErr := releaseLock(s.opts.FilePath)

	if syncErr != nil {
		return fmt.Errorf("spool: sync on close: %w", syncErr)
	}
	return lockErr
}
