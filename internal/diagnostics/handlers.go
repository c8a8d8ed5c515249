package diagnostics

import (
	"context"
	"net/http"

	"peaccore/internal/policy"
	"peaccore/internal/spool"
)

// SpoolInspector is the read-only subset of *spool.Store the diagnostics
// surface reports on.
type SpoolInspector interface {
	State() spool.State
	HeadDigest() string
	Sequence() int64
	EntryCount() int64
	FileBytes() int64
}

// DedupeInspector is the read-only subset of spool.DedupeIndex the
// diagnostics surface reports on.
type DedupeInspector interface {
	Size(ctx context.Context) (int64, error)
}

// Server holds the dependencies needed by the diagnostics handlers. All
// fields are read-only views; diagnostics never mutates spool, dedupe, or
// policy state (spec §2, "explicitly an external collaborator").
type Server struct {
	Spool         SpoolInspector
	Dedupe        DedupeInspector
	PolicyDoc     policy.Document
	PolicyProfile policy.ProfileName
}

// NewServer constructs a diagnostics Server.
func NewServer(spool SpoolInspector, dedupe DedupeInspector, doc policy.Document, profile policy.ProfileName) *Server {
	return &Server{Spool: spool, Dedupe: dedupe, PolicyDoc: doc, PolicyProfile: profile}
}

// handleHealthz responds to GET /healthz. No authentication required, so
// load balancers and orchestrators can probe liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type spoolStatus struct {
	State      spool.State `json:"state"`
	HeadDigest string      `json:"head_digest"`
	Sequence   int64       `json:"sequence"`
	EntryCount int64       `json:"entry_count"`
	FileBytes  int64       `json:"file_bytes"`
}

// handleGetSpool responds to GET /api/v1/spool with the current spool
// lifecycle state and chain position.
func (s *Server) handleGetSpool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, spoolStatus{
		State:      s.Spool.State(),
		HeadDigest: s.Spool.HeadDigest(),
		Sequence:   s.Spool.Sequence(),
		EntryCount: s.Spool.EntryCount(),
		FileBytes:  s.Spool.FileBytes(),
	})
}

type dedupeStatus struct {
	Size int64 `json:"size"`
}

// handleGetDedupe responds to GET /api/v1/dedupe with the dedupe index size.
func (s *Server) handleGetDedupe(w http.ResponseWriter, r *http.Request) {
	size, err := s.Dedupe.Size(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dedupe index size")
		return
	}
	writeJSON(w, http.StatusOK, dedupeStatus{Size: size})
}

type policyStatus struct {
	Version string            `json:"version"`
	Profile policy.ProfileName `json:"profile"`
	Rules   int               `json:"rule_count"`
}

// handleGetPolicy responds to GET /api/v1/policy with the active policy
// document's version, rule count, and enforcement profile.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policyStatus{
		Version: s.PolicyDoc.Version,
		Profile: s.PolicyProfile,
		Rules:   len(s.PolicyDoc.Rules),
	})
}
