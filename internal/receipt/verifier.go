package receipt

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"peaccore/internal/canon"
)

// recognizedHeaderKeys are the only protected-header members the verifier
// accepts (spec §4.6 check 3 "rejects unsupported extensions").
var recognizedHeaderKeys = map[string]bool{"alg": true, "typ": true, "kid": true, "crit": true}

// Verifier executes the fixed-order ten-check pipeline (spec §4.6).
type Verifier struct {
	policy Policy
	cache  *jwksCache
}

// sharedJWKSCache is the process-wide JWKS cache every Verifier consults.
var sharedJWKSCache = newJWKSCache()

// NewVerifier constructs a Verifier bound to policy. All Verifiers share
// the process-wide JWKS cache.
func NewVerifier(policy Policy) *Verifier {
	policy.setDefaults()
	return &Verifier{policy: policy, cache: sharedJWKSCache}
}

// Verify runs all ten checks against jws in fixed order and returns a
// shape-stable Report (spec §4.6).
func (v *Verifier) Verify(ctx context.Context, jws string) Report {
	b := newBuilder()

	// 1. jws.parse
	segments := strings.Split(jws, ".")
	if len(segments) != 3 {
		b.fail(CheckJWSParse, ReasonMalformedReceipt, "jws must have exactly three base64url segments", "E_VERIFY_MALFORMED_RECEIPT")
		return b.build(nil)
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		b.fail(CheckJWSParse, ReasonMalformedReceipt, "protected header is not valid base64url", "E_VERIFY_MALFORMED_RECEIPT")
		return b.build(nil)
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		b.fail(CheckJWSParse, ReasonMalformedReceipt, "payload is not valid base64url", "E_VERIFY_MALFORMED_RECEIPT")
		return b.build(nil)
	}
	var headerFields map[string]json.RawMessage
	if err := json.Unmarshal(headerRaw, &headerFields); err != nil {
		b.fail(CheckJWSParse, ReasonMalformedReceipt, "protected header is not JSON", "E_VERIFY_MALFORMED_RECEIPT")
		return b.build(nil)
	}
	var rawClaims map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &rawClaims); err != nil {
		b.fail(CheckJWSParse, ReasonMalformedReceipt, "payload is not JSON", "E_VERIFY_MALFORMED_RECEIPT")
		return b.build(nil)
	}
	b.pass(CheckJWSParse)

	// 2. limits.receipt_bytes
	if len(jws) > v.policy.Limits.MaxReceiptBytes {
		b.fail(CheckLimitsReceiptBytes, ReasonReceiptTooLarge,
			fmt.Sprintf("receipt is %d bytes, exceeds max_receipt_bytes %d", len(jws), v.policy.Limits.MaxReceiptBytes),
			"E_VERIFY_RECEIPT_TOO_LARGE")
		return b.build(nil)
	}
	b.pass(CheckLimitsReceiptBytes)

	// 3. jws.protected_header
	var header protectedHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, "cannot parse protected header", "E_VERIFY_SCHEMA_INVALID")
		return b.build(nil)
	}
	if header.Alg != "EdDSA" {
		b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, fmt.Sprintf("alg %q is not EdDSA", header.Alg), "E_VERIFY_SCHEMA_INVALID")
		return b.build(nil)
	}
	if header.Typ != receiptTyp() {
		b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, fmt.Sprintf("typ %q does not match %q", header.Typ, receiptTyp()), "E_VERIFY_SCHEMA_INVALID")
		return b.build(nil)
	}
	if header.Kid == "" {
		b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, "kid is missing", "E_VERIFY_SCHEMA_INVALID")
		return b.build(nil)
	}
	for _, critName := range header.Crit {
		if _, present := headerFields[critName]; !present {
			b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, fmt.Sprintf("declared crit %q is missing from header", critName), "E_VERIFY_SCHEMA_INVALID")
			return b.build(nil)
		}
	}
	for key := range headerFields {
		if !recognizedHeaderKeys[key] {
			b.fail(CheckJWSProtectedHeader, ReasonSchemaInvalid, fmt.Sprintf("unsupported header extension %q", key), "E_VERIFY_SCHEMA_INVALID")
			return b.build(nil)
		}
	}
	b.pass(CheckJWSProtectedHeader)

	// 4. claims.schema_unverified
	var claims Claims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		b.fail(CheckClaimsSchema, ReasonSchemaInvalid, "cannot parse claims", "E_VERIFY_SCHEMA_INVALID")
		return b.build(nil)
	}
	if structErr := validateClaimsSchema(claims); structErr != nil {
		b.fail(CheckClaimsSchema, ReasonSchemaInvalid, structErr.Error(), "E_VERIFY_SCHEMA_INVALID")
		return b.build(&claims)
	}
	b.pass(CheckClaimsSchema)

	// 5. issuer.trust_policy
	issOrigin, err := normalizeOrigin(claims.Iss)
	if err != nil || !v.policy.issuerAllowed(issOrigin) {
		b.fail(CheckIssuerTrustPolicy, ReasonIssuerNotAllowed, fmt.Sprintf("issuer %q is not in the allowlist", claims.Iss), "E_VERIFY_ISSUER_NOT_ALLOWED")
		return b.build(&claims)
	}
	b.pass(CheckIssuerTrustPolicy)

	// 6. issuer.discovery / 7. key.resolve
	pin := v.policy.findPin(claims.Iss, header.Kid)
	var resolvedKey *jose.JSONWebKey

	switch {
	case pin != nil && pin.JWK != nil:
		b.pass(CheckIssuerDiscovery)
		resolvedKey = pin.JWK

	case v.policy.Mode == ModeOfflineOnly:
		b.skipExplicit(CheckIssuerDiscovery, "offline_only mode with no pinned key material")
		// resolvedKey stays nil; check 7 will fail with key_not_found.

	default:
		set, err := v.resolveJWKS(ctx, issOrigin)
		if err != nil {
			reason := ReasonNetworkError
			if strings.Contains(err.Error(), "blocked address") {
				reason = ReasonNetworkBlocked
			}
			b.fail(CheckIssuerDiscovery, reason, err.Error(), "E_VERIFY_NETWORK_ERROR")
			return b.build(&claims)
		}
		b.pass(CheckIssuerDiscovery)
		for i := range set.Keys {
			if set.Keys[i].KeyID == header.Kid {
				resolvedKey = &set.Keys[i]
				break
			}
		}
	}

	if resolvedKey == nil {
		b.fail(CheckKeyResolve, ReasonKeyNotFound, fmt.Sprintf("kid %q not found", header.Kid), "E_VERIFY_KEY_NOT_FOUND")
		return b.build(&claims)
	}
	if pin != nil {
		thumb, err := resolvedKey.Thumbprint(crypto.SHA256)
		if err != nil || base64.RawURLEncoding.EncodeToString(thumb) != pin.JWKThumbprintSHA256 {
			b.fail(CheckKeyResolve, ReasonPolicyViolation, "resolved key thumbprint does not match pinned thumbprint", "E_VERIFY_POLICY_VIOLATION")
			return b.build(&claims)
		}
	}
	if resolvedKey.Use != "" && resolvedKey.Use != "sig" {
		b.fail(CheckKeyResolve, ReasonPolicyViolation, fmt.Sprintf("key use %q is not sig", resolvedKey.Use), "E_VERIFY_POLICY_VIOLATION")
		return b.build(&claims)
	}
	if len(resolvedKey.KeyOps) > 0 && !keyOpsIncludeVerify(resolvedKey.KeyOps) {
		b.fail(CheckKeyResolve, ReasonPolicyViolation, "key_ops does not include verify", "E_VERIFY_POLICY_VIOLATION")
		return b.build(&claims)
	}
	pubKey, ok := resolvedKey.Key.(ed25519.PublicKey)
	if !ok {
		b.fail(CheckKeyResolve, ReasonPolicyViolation, "resolved key is not an Ed25519 key, cannot satisfy alg EdDSA", "E_VERIFY_POLICY_VIOLATION")
		return b.build(&claims)
	}
	b.pass(CheckKeyResolve)

	// 8. jws.signature
	obj, err := jose.ParseSigned(jws, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		b.fail(CheckJWSSignature, ReasonSignatureInvalid, "cannot parse jws for verification: "+err.Error(), "E_VERIFY_SIGNATURE_INVALID")
		return b.build(&claims)
	}
	if _, err := obj.Verify(pubKey); err != nil {
		b.fail(CheckJWSSignature, ReasonSignatureInvalid, "signature verification failed", "E_VERIFY_SIGNATURE_INVALID")
		return b.build(&claims)
	}
	b.pass(CheckJWSSignature)

	// 9. claims.time_window
	now := nowUnix()
	if claims.Iat > now+60 {
		b.fail(CheckClaimsTimeWindow, ReasonNotYetValid, "iat is more than 60s in the future", "E_VERIFY_NOT_YET_VALID")
		return b.build(&claims)
	}
	if claims.Exp != nil && *claims.Exp < now {
		b.fail(CheckClaimsTimeWindow, ReasonExpired, "exp has passed", "E_VERIFY_EXPIRED")
		return b.build(&claims)
	}
	b.pass(CheckClaimsTimeWindow)

	// 10. extensions.limits
	for name, raw := range claims.Ext {
		size, err := canon.CanonicalizeDefault(json.RawMessage(raw))
		if err != nil {
			b.fail(CheckExtensionsLimits, ReasonExtensionTooLarge, fmt.Sprintf("ext %q is not JSON-safe", name), "E_VERIFY_EXTENSION_TOO_LARGE")
			return b.build(&claims)
		}
		if len(size) > v.policy.Limits.MaxExtensionBytes {
			b.fail(CheckExtensionsLimits, ReasonExtensionTooLarge, fmt.Sprintf("ext %q is %d bytes, exceeds max_extension_bytes %d", name, len(size), v.policy.Limits.MaxExtensionBytes), "E_VERIFY_EXTENSION_TOO_LARGE")
			return b.build(&claims)
		}
	}
	b.pass(CheckExtensionsLimits)

	return b.build(&claims)
}

func (v *Verifier) resolveJWKS(ctx context.Context, origin string) (jose.JSONWebKeySet, error) {
	if set, ok := v.cache.get(origin); ok {
		return set, nil
	}
	set, err := discoverJWKS(ctx, origin, v.policy.Limits)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	v.cache.put(origin, set)
	return set, nil
}

// validateClaimsSchema checks the structural preconditions of spec §4.5
// that do not depend on the wall clock (time-window checks happen in check
// 9, separately, so a stale-but-structurally-valid receipt still reaches
// signature verification).
func validateClaimsSchema(c Claims) error {
	if !strings.HasPrefix(c.Iss, "https://") {
		return fmt.Errorf("iss must start with https://")
	}
	if !strings.HasPrefix(c.Aud, "https://") {
		return fmt.Errorf("aud must start with https://")
	}
	if c.Rid == "" {
		return fmt.Errorf("rid is required")
	}
	if !currencyRe.MatchString(c.Cur) {
		return fmt.Errorf("cur must match ^[A-Z]{3}$")
	}
	if c.Amt < 0 {
		return fmt.Errorf("amt must be non-negative")
	}
	if c.Exp != nil && *c.Exp <= c.Iat {
		return fmt.Errorf("exp must be greater than iat")
	}
	if c.Payment.Rail == "" || c.Payment.Reference == "" {
		return fmt.Errorf("payment.rail and payment.reference are required")
	}
	return nil
}

func normalizeOrigin(iss string) (string, error) {
	u, err := url.Parse(iss)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

func keyOpsIncludeVerify(ops []string) bool {
	for _, op := range ops {
		if op == "verify" {
			return true
		}
	}
	return false
}
