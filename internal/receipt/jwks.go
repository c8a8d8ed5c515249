package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

const jwksCacheTTL = 5 * time.Minute

// cachedJWKS is one process-wide JWKS cache entry, keyed by issuer origin
// (spec §4.6 check 6 "5-minute in-memory TTL cache", §5 "write-only on
// miss, read-only on hit").
type cachedJWKS struct {
	set       jose.JSONWebKeySet
	fetchedAt time.Time
}

// jwksCache is process-wide and safe for concurrent readers; a slow refresh
// for one origin never blocks a cached verify for another (spec §5).
type jwksCache struct {
	mu      sync.RWMutex
	entries map[string]cachedJWKS
}

func newJWKSCache() *jwksCache {
	return &jwksCache{entries: make(map[string]cachedJWKS)}
}

func (c *jwksCache) get(origin string) (jose.JSONWebKeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[origin]
	if !ok || time.Since(e.fetchedAt) > jwksCacheTTL {
		return jose.JSONWebKeySet{}, false
	}
	return e.set, true
}

func (c *jwksCache) put(origin string, set jose.JSONWebKeySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = cachedJWKS{set: set, fetchedAt: time.Now()}
}

// ssrfSafeDialContext refuses to connect to loopback, private, link-local,
// or cloud-metadata addresses, regardless of what the hostname resolves to
// (spec §4.6 "SSRF safety").
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if isBlockedAddr(ip.IP) {
			return nil, fmt.Errorf("receipt: refusing to dial blocked address %s", ip.IP)
		}
	}
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

func isBlockedAddr(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// Cloud metadata endpoint (169.254.169.254) is already caught by
	// IsLinkLocalUnicast above; this is an explicit belt-and-braces check.
	if ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return true
	}
	return false
}

func newSSRFSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: ssrfSafeDialContext,
		},
	}
}

// discoverJWKS performs SSRF-safe discovery of origin's signing keys: first
// /.well-known/peac-issuer.json (which names a jwks_uri), falling back to
// /.well-known/jwks.json directly (spec §6 "Issuer discovery").
func discoverJWKS(ctx context.Context, origin string, limits Limits) (jose.JSONWebKeySet, error) {
	client := newSSRFSafeClient(time.Duration(limits.DiscoveryTimeoutMs) * time.Millisecond)

	jwksURI := origin + "/.well-known/jwks.json"
	if doc, err := fetchCapped(ctx, client, origin+"/.well-known/peac-issuer.json", 4096); err == nil {
		var parsed struct {
			Issuer   string `json:"issuer"`
			JWKSURI  string `json:"jwks_uri"`
		}
		if jsonErr := json.Unmarshal(doc, &parsed); jsonErr == nil && parsed.JWKSURI != "" {
			jwksURI = parsed.JWKSURI
		}
	}

	body, err := fetchCapped(ctx, client, jwksURI, maxJWKSBytes(limits))
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("receipt: parse jwks: %w", err)
	}
	if len(set.Keys) > limits.MaxJWKSKeys {
		return jose.JSONWebKeySet{}, fmt.Errorf("receipt: jwks key count %d exceeds max %d", len(set.Keys), limits.MaxJWKSKeys)
	}
	return set, nil
}

func maxJWKSBytes(limits Limits) int64 {
	// A generous 4 KiB per-key budget, times MaxJWKSKeys, bounds the
	// response size before the key count is checked, so a server cannot pad
	// individual keys to exhaust memory.
	return int64(limits.MaxJWKSKeys) * 4096
}

func fetchCapped(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("receipt: discovery fetch %s: status %d", url, resp.StatusCode)
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("receipt: discovery response exceeds %d bytes", maxBytes)
	}
	return body, nil
}
