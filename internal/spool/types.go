// Package spool implements the tamper-evident, append-only, hash-chained
// capture log (spec §4.2) and the dedupe index that sits beside it
// (spec §4.3). The chaining design is grounded on the teacher's
// internal/audit/audit_logger.go: a genesis hash, per-line prev/entry
// hashing, O_APPEND writes, and a scan-to-restore-state Open. This package
// adds what the teacher's logger does not need: a single-writer lockfile, a
// meta sidecar with a fast-open path, hard entry/byte caps, and a
// corrupt/read-only state machine.
package spool

import (
	"encoding/json"
	"strings"
	"time"

	"peaccore/internal/canon"
)

// GenesisDigest is the 64 zero hex characters used as the prev_entry_digest
// of the very first entry in a chain.
var GenesisDigest = strings.Repeat("0", 64)

// Status is one of the four CapturedAction outcomes.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCanceled  Status = "canceled"
)

// CapturedAction is the input to a capture session (spec §3). It is never
// persisted verbatim: InputBytes/OutputBytes are hashed and discarded, and
// the persisted form (in SpoolEntry.Action) carries json:"-" on both so
// encoding/json never serialises them.
type CapturedAction struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Platform  string    `json:"platform"`
	StartedAt time.Time `json:"started_at"`

	Version  string `json:"version,omitempty"`
	PluginID string `json:"plugin_id,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Resource string `json:"resource,omitempty"`

	InputBytes  []byte `json:"-"`
	OutputBytes []byte `json:"-"`

	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Status      Status          `json:"status,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Retryable   *bool           `json:"retryable,omitempty"`
	Policy      json.RawMessage `json:"policy_snapshot,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Validate checks the required fields spec §4.4 step 2 demands.
func (a CapturedAction) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errValidation("id is required")
	}
	if strings.TrimSpace(a.Kind) == "" {
		return errValidation("kind is required")
	}
	if strings.TrimSpace(a.Platform) == "" {
		return errValidation("platform is required")
	}
	if a.StartedAt.IsZero() {
		return errValidation("started_at is required")
	}
	return nil
}

// CapturedAtDerived returns completed_at if present, else started_at — a
// pure function of the action, never the wall clock (spec §3, §9).
func (a CapturedAction) CapturedAtDerived() time.Time {
	if a.CompletedAt != nil {
		return *a.CompletedAt
	}
	return a.StartedAt
}

// SpoolEntry is the persisted, chained record (spec §3).
type SpoolEntry struct {
	CapturedAt      time.Time     `json:"captured_at"`
	Action          CapturedAction `json:"action"`
	InputDigest     *canon.Digest `json:"input_digest,omitempty"`
	OutputDigest    *canon.Digest `json:"output_digest,omitempty"`
	PrevEntryDigest string        `json:"prev_entry_digest"`
	EntryDigest     string        `json:"entry_digest"`
	Sequence        int64         `json:"sequence"`
}

// entryHashShape mirrors SpoolEntry with EntryDigest omitted: the exact
// shape hashed to produce EntryDigest (spec §3: "entry minus entry_digest").
type entryHashShape struct {
	CapturedAt      time.Time      `json:"captured_at"`
	Action          CapturedAction `json:"action"`
	InputDigest     *canon.Digest  `json:"input_digest,omitempty"`
	OutputDigest    *canon.Digest  `json:"output_digest,omitempty"`
	PrevEntryDigest string         `json:"prev_entry_digest"`
	Sequence        int64          `json:"sequence"`
}

// ComputeEntryDigest returns sha256_hex(JCS(entry minus entry_digest)).
func ComputeEntryDigest(e SpoolEntry) (string, error) {
	shape := entryHashShape{
		CapturedAt:      e.CapturedAt,
		Action:          e.Action,
		InputDigest:     e.InputDigest,
		OutputDigest:    e.OutputDigest,
		PrevEntryDigest: e.PrevEntryDigest,
		Sequence:        e.Sequence,
	}
	b, err := canon.CanonicalizeDefault(shape)
	if err != nil {
		return "", err
	}
	return canon.SHA256Hex(b), nil
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return "spool: validation: " + e.msg }

func errValidation(msg string) error { return &validationError{msg: msg} }

// IsValidationError reports whether err is a CapturedAction validation
// failure.
func IsValidationError(err error) bool {
	_, ok := err.(*validationError)
	return ok
}
