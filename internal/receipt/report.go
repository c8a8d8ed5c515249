package receipt

// CheckID enumerates the ten fixed-order verifier checks (spec §4.6). The
// report always lists every id, in this order, regardless of where
// verification actually stopped — "shape-stable" per spec §9 design notes.
type CheckID string

const (
	CheckJWSParse            CheckID = "jws.parse"
	CheckLimitsReceiptBytes  CheckID = "limits.receipt_bytes"
	CheckJWSProtectedHeader  CheckID = "jws.protected_header"
	CheckClaimsSchema        CheckID = "claims.schema_unverified"
	CheckIssuerTrustPolicy   CheckID = "issuer.trust_policy"
	CheckIssuerDiscovery     CheckID = "issuer.discovery"
	CheckKeyResolve          CheckID = "key.resolve"
	CheckJWSSignature        CheckID = "jws.signature"
	CheckClaimsTimeWindow    CheckID = "claims.time_window"
	CheckExtensionsLimits    CheckID = "extensions.limits"
)

// orderedChecks is the fixed enumeration of check ids, in pipeline order.
var orderedChecks = []CheckID{
	CheckJWSParse,
	CheckLimitsReceiptBytes,
	CheckJWSProtectedHeader,
	CheckClaimsSchema,
	CheckIssuerTrustPolicy,
	CheckIssuerDiscovery,
	CheckKeyResolve,
	CheckJWSSignature,
	CheckClaimsTimeWindow,
	CheckExtensionsLimits,
}

// Status is a single check's outcome.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Reason codes (spec §4.6), bound to the first failing check.
const (
	ReasonOK                  = "ok"
	ReasonMalformedReceipt    = "malformed_receipt"
	ReasonReceiptTooLarge     = "receipt_too_large"
	ReasonSchemaInvalid       = "schema_invalid"
	ReasonIssuerNotAllowed    = "issuer_not_allowed"
	ReasonKeyNotFound         = "key_not_found"
	ReasonPolicyViolation     = "policy_violation"
	ReasonSignatureInvalid    = "signature_invalid"
	ReasonNotYetValid         = "not_yet_valid"
	ReasonExpired             = "expired"
	ReasonExtensionTooLarge   = "extension_too_large"
	ReasonNetworkBlocked      = "network_blocked"
	ReasonNetworkError        = "network_error"
)

// CheckResult is one entry in a Report.
type CheckResult struct {
	ID        CheckID `json:"id"`
	Status    Status  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
}

// Report is the shape-stable output of Verify: every check id appears
// exactly once, in pipeline order (spec §4.6, §9).
type Report struct {
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason"`
	Checks []CheckResult `json:"checks"`
	Claims *Claims       `json:"claims,omitempty"`

	// IssuerJWKSDigest is cache-dependent metadata omitted from a
	// deterministic report (spec §4.6 "Determinism").
	IssuerJWKSDigest string `json:"issuer_jwks_digest,omitempty"`
}

// Deterministic returns a copy of r with wall-clock and cache-dependent
// fields cleared, so identical inputs + policy produce byte-identical
// reports.
func (r Report) Deterministic() Report {
	r.IssuerJWKSDigest = ""
	return r
}

// builder accumulates CheckResults and short-circuits remaining checks as
// skip:short_circuit after the first fail.
type builder struct {
	results     map[CheckID]CheckResult
	failed      bool
	failReason  string
}

func newBuilder() *builder {
	return &builder{results: make(map[CheckID]CheckResult, len(orderedChecks))}
}

func (b *builder) pass(id CheckID) {
	if b.failed {
		return
	}
	b.results[id] = CheckResult{ID: id, Status: StatusPass}
}

func (b *builder) fail(id CheckID, reason, detail, errorCode string) {
	if b.failed {
		return
	}
	b.results[id] = CheckResult{ID: id, Status: StatusFail, Detail: detail, ErrorCode: errorCode}
	b.failed = true
	b.failReason = reason
}

// skipExplicit records an explicit skip (used by issuer.discovery in
// offline-only mode per spec §4.6 check 6) without marking the pipeline
// failed; the failure is attributed to the next check instead.
func (b *builder) skipExplicit(id CheckID, detail string) {
	if b.failed {
		return
	}
	b.results[id] = CheckResult{ID: id, Status: StatusSkip, Detail: detail}
}

func (b *builder) build(claims *Claims) Report {
	checks := make([]CheckResult, 0, len(orderedChecks))
	reason := ReasonOK
	valid := !b.failed
	if b.failed {
		reason = b.failReason
	}
	seenFailure := false
	for _, id := range orderedChecks {
		if r, ok := b.results[id]; ok {
			checks = append(checks, r)
			if r.Status == StatusFail {
				seenFailure = true
			}
			continue
		}
		if seenFailure {
			checks = append(checks, CheckResult{ID: id, Status: StatusSkip, Detail: "short_circuit"})
		} else {
			checks = append(checks, CheckResult{ID: id, Status: StatusSkip})
		}
	}
	return Report{Valid: valid, Reason: reason, Checks: checks, Claims: claims}
}
