package receipt

import (
	"crypto/ed25519"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"peaccore/internal/canon"
)

// IssuerOptions configures an Issuer.
type IssuerOptions struct {
	Kid               string
	PrivateKey        ed25519.PrivateKey
	MaxExtensionBytes int
}

func (o *IssuerOptions) setDefaults() {
	if o.MaxExtensionBytes <= 0 {
		o.MaxExtensionBytes = 4096
	}
}

// Issuer assembles and signs receipts (spec §4.5).
type Issuer struct {
	opts IssuerOptions
}

// NewIssuer constructs an Issuer from a signing key and key id.
func NewIssuer(opts IssuerOptions) (*Issuer, error) {
	opts.setDefaults()
	if len(opts.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("receipt: private key must be an Ed25519 key")
	}
	if opts.Kid == "" {
		return nil, fmt.Errorf("receipt: kid is required")
	}
	return &Issuer{opts: opts}, nil
}

// Issued is the result of a successful Issue call.
type Issued struct {
	JWS    string
	Claims Claims
}

// Issue validates claims, assigns rid (a fresh UUIDv7) and iat, and emits a
// compact JWS: header {alg:"EdDSA", typ:"peac.receipt/<version>", kid} over
// the JCS-canonicalised payload, signed with the issuer's Ed25519 key (spec
// §4.5).
func (iss *Issuer) Issue(claims Claims) (Issued, error) {
	rid, err := uuid.NewV7()
	if err != nil {
		return Issued{}, fmt.Errorf("receipt: generate rid: %w", err)
	}
	claims.Rid = rid.String()
	claims.Iat = nowUnix()

	if err := claims.validate(claims.Iat, iss.opts.MaxExtensionBytes); err != nil {
		return Issued{}, err
	}

	payload, err := canon.CanonicalizeDefault(claims)
	if err != nil {
		return Issued{}, fmt.Errorf("receipt: canonicalize claims: %w", err)
	}

	signerOpts := (&jose.SignerOptions{}).WithType(receiptTyp()).WithHeader("kid", iss.opts.Kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: iss.opts.PrivateKey}, signerOpts)
	if err != nil {
		return Issued{}, fmt.Errorf("receipt: create signer: %w", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		return Issued{}, fmt.Errorf("receipt: sign claims: %w", err)
	}

	compact, err := obj.CompactSerialize()
	if err != nil {
		return Issued{}, fmt.Errorf("receipt: serialize jws: %w", err)
	}

	return Issued{JWS: compact, Claims: claims}, nil
}
