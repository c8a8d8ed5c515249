package receipt

import (
	jose "github.com/go-jose/go-jose/v4"
)

// DiscoveryMode controls how the verifier resolves signing keys (spec §6,
// §9 "trust pinning first, discovery second").
type DiscoveryMode string

const (
	ModeOfflineOnly      DiscoveryMode = "offline_only"
	ModeOfflinePreferred DiscoveryMode = "offline_preferred"
	ModeNetworkPreferred DiscoveryMode = "network_preferred"
)

// Pin binds a trusted issuer+kid to a JWK thumbprint, optionally carrying
// the key material itself so the verifier never has to go to the network
// (spec §4.6 "Trust pinning").
type Pin struct {
	Issuer            string
	Kid               string
	JWKThumbprintSHA256 string
	JWK               *jose.JSONWebKey // optional: present => fully offline
}

// Limits bounds verifier resource consumption (spec §6).
type Limits struct {
	MaxReceiptBytes     int
	MaxExtensionBytes   int
	MaxJWKSKeys         int
	DiscoveryTimeoutMs  int64
}

func (l *Limits) setDefaults() {
	if l.MaxReceiptBytes <= 0 {
		l.MaxReceiptBytes = 16 * 1024
	}
	if l.MaxExtensionBytes <= 0 {
		l.MaxExtensionBytes = 4096
	}
	if l.MaxJWKSKeys <= 0 {
		l.MaxJWKSKeys = 32
	}
	if l.DiscoveryTimeoutMs <= 0 {
		l.DiscoveryTimeoutMs = 5000
	}
}

// Policy configures a Verifier (spec §6 "Verifier policy").
type Policy struct {
	Mode            DiscoveryMode
	IssuerAllowlist []string
	PinnedKeys      []Pin
	Limits          Limits
}

func (p *Policy) setDefaults() {
	if p.Mode == "" {
		p.Mode = ModeOfflinePreferred
	}
	p.Limits.setDefaults()
}

func (p *Policy) issuerAllowed(iss string) bool {
	for _, allowed := range p.IssuerAllowlist {
		if allowed == iss {
			return true
		}
	}
	return false
}

func (p *Policy) findPin(iss, kid string) *Pin {
	for i := range p.PinnedKeys {
		if p.PinnedKeys[i].Issuer == iss && p.PinnedKeys[i].Kid == kid {
			return &p.PinnedKeys[i]
		}
	}
	return nil
}
