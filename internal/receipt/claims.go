// Package receipt implements the deterministic receipt issuer and verifier
// (spec §4.5, §4.6): claim assembly and detached JWS signing over
// canonical JSON, and a fixed-order ten-check verification pipeline with a
// shape-stable report. Grounded on the teacher's domain/types.go for
// strict-validation value types, and on the pack's go-jose-using manifests
// (jeremyhahn-go-objstore, estuary-flow) for the EdDSA JWS wire format —
// the one dependency this package pulls in that the teacher never used.
package receipt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"peaccore/internal/canon"
)

const wireVersion = "1"

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentEnv is the environment a payment rail executed under.
type PaymentEnv string

const (
	EnvLive PaymentEnv = "live"
	EnvTest PaymentEnv = "test"
)

// Payment is the evidence sub-object carried on a receipt's claims (spec §3).
type Payment struct {
	Rail      string          `json:"rail"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Asset     string          `json:"asset,omitempty"`
	Env       PaymentEnv      `json:"env"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
}

// Claims is the pre-signing input to Issue (spec §4.5). Rid and Iat are
// assigned by the issuer, never supplied by the caller.
type Claims struct {
	Iss            string          `json:"iss"`
	Aud            string          `json:"aud"`
	Rid            string          `json:"rid"`
	Iat            int64           `json:"iat"`
	Exp            *int64          `json:"exp,omitempty"`
	Amt            int64           `json:"amt"`
	Cur            string          `json:"cur"`
	Payment        Payment         `json:"payment"`
	SubjectSnapshot json.RawMessage `json:"subject_snapshot,omitempty"`
	Ext            map[string]json.RawMessage `json:"ext,omitempty"`
}

// validate checks the issuer-side preconditions of spec §4.5. iat is
// supplied by the caller (the issuer sets it just before validation) so
// exp>iat can be checked without a clock read inside this pure function.
func (c Claims) validate(iat int64, maxExtensionBytes int) error {
	if !strings.HasPrefix(c.Iss, "https://") {
		return fmt.Errorf("receipt: iss must start with https://: %q", c.Iss)
	}
	if !strings.HasPrefix(c.Aud, "https://") {
		return fmt.Errorf("receipt: aud must start with https://: %q", c.Aud)
	}
	if !currencyRe.MatchString(c.Cur) {
		return fmt.Errorf("receipt: cur must match ^[A-Z]{3}$: %q", c.Cur)
	}
	if c.Amt < 0 {
		return fmt.Errorf("receipt: amt must be non-negative, got %d", c.Amt)
	}
	if c.Exp != nil && *c.Exp <= iat {
		return fmt.Errorf("receipt: exp must be greater than iat")
	}
	for name, raw := range c.Ext {
		b, err := canon.CanonicalizeDefault(json.RawMessage(raw))
		if err != nil {
			return fmt.Errorf("receipt: ext %q is not JSON-safe: %w", name, err)
		}
		if len(b) > maxExtensionBytes {
			return fmt.Errorf("receipt: ext %q is %d bytes, exceeds max_extension_bytes %d", name, len(b), maxExtensionBytes)
		}
	}
	return nil
}

// protectedHeader is the JWS protected header the issuer writes and the
// verifier inspects (spec §4.5, §6).
type protectedHeader struct {
	Alg  string   `json:"alg"`
	Typ  string   `json:"typ"`
	Kid  string   `json:"kid"`
	Crit []string `json:"crit,omitempty"`
}

func receiptTyp() string { return "peac.receipt/" + wireVersion }

// nowUnix exists so issuance time can be overridden in tests without
// threading a clock interface through every call site.
var nowUnix = func() int64 { return time.Now().UTC().Unix() }
