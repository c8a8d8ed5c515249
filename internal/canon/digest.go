package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TruncThreshold is the typed enum of the two byte thresholds the spool and
// receipt layers are permitted to truncate raw payloads at. Any other value
// is a construction-time error (spec §9: "reject any other threshold at
// construction, not at hash time").
type TruncThreshold int

const (
	Trunc64KiB TruncThreshold = 64 * 1024
	Trunc1MiB  TruncThreshold = 1024 * 1024
)

func (t TruncThreshold) valid() bool {
	return t == Trunc64KiB || t == Trunc1MiB
}

func (t TruncThreshold) tag() string {
	switch t {
	case Trunc64KiB:
		return "sha-256:trunc-64k"
	case Trunc1MiB:
		return "sha-256:trunc-1m"
	default:
		return ""
	}
}

// NewTruncThreshold validates n and returns a TruncThreshold, or an error if
// n is not one of the two legal values.
func NewTruncThreshold(n int) (TruncThreshold, error) {
	t := TruncThreshold(n)
	if !t.valid() {
		return 0, fmt.Errorf("canon: invalid truncation threshold %d: must be %d or %d", n, Trunc64KiB, Trunc1MiB)
	}
	return t, nil
}

// Digest is the {alg, value, bytes} triple recorded on SpoolEntry.InputDigest
// / OutputDigest. Value is always 64 lowercase hex characters; Bytes is the
// length of the *original* payload, even when Alg indicates truncation.
type Digest struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
	Bytes int    `json:"bytes"`
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ComputeDigest hashes payload, truncating to threshold first if payload is
// longer. The returned Digest.Bytes always records len(payload), the
// original length, regardless of truncation.
func ComputeDigest(payload []byte, threshold TruncThreshold) (Digest, error) {
	if !threshold.valid() {
		return Digest{}, fmt.Errorf("canon: invalid truncation threshold %d", threshold)
	}

	n := len(payload)
	if n <= int(threshold) {
		return Digest{
			Alg:   "sha-256",
			Value: SHA256Hex(payload),
			Bytes: n,
		}, nil
	}

	return Digest{
		Alg:   threshold.tag(),
		Value: SHA256Hex(payload[:int(threshold)]),
		Bytes: n,
	}, nil
}
