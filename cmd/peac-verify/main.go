// Command peac-verify verifies a receipt, either a single compact JWS
// (via -jws or stdin) or every receipt in a bundle directory (via -bundle),
// and prints each verification Report as JSON.
package main

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	jose "github.com/go-jose/go-jose/v4"

	"peaccore/internal/bundle"
	"peaccore/internal/config"
	"peaccore/internal/receipt"
)

func main() {
	configPath := flag.String("config", "/etc/peaccore/config.yaml", "path to the peaccore YAML configuration file")
	jwsFlag := flag.String("jws", "", "compact JWS to verify (reads from stdin if empty and -bundle is unset)")
	bundleDir := flag.String("bundle", "", "bundle directory to verify every receipt in")
	pinnedKeysPath := flag.String("pinned-keys", "", "path to a JSON file of pinned issuer keys")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peac-verify: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	policy := receipt.Policy{
		Mode:            receipt.DiscoveryMode(cfg.Verifier.Mode),
		IssuerAllowlist: cfg.Verifier.IssuerAllowlist,
		Limits: receipt.Limits{
			MaxReceiptBytes:    cfg.Verifier.MaxReceiptBytes,
			MaxExtensionBytes:  cfg.Verifier.MaxExtensionBytes,
			MaxJWKSKeys:        cfg.Verifier.MaxJWKSKeys,
			DiscoveryTimeoutMs: cfg.Verifier.DiscoveryTimeoutMs,
		},
	}
	if *pinnedKeysPath != "" {
		pins, err := loadPinnedKeys(*pinnedKeysPath)
		if err != nil {
			logger.Error("failed to load pinned keys", slog.Any("error", err))
			os.Exit(1)
		}
		policy.PinnedKeys = pins
	}

	verifier := receipt.NewVerifier(policy)
	encoder := json.NewEncoder(os.Stdout)
	failed := false

	ctx := context.Background()
	verifyOne := func(jws string) {
		report := verifier.Verify(ctx, jws)
		if err := encoder.Encode(report); err != nil {
			logger.Error("failed to write report", slog.Any("error", err))
			os.Exit(1)
		}
		if !report.Valid {
			failed = true
		}
	}

	switch {
	case *bundleDir != "":
		_, entries, err := bundle.Read(*bundleDir)
		if err != nil {
			logger.Error("failed to read bundle", slog.Any("error", err))
			os.Exit(1)
		}
		for _, e := range entries {
			verifyOne(e.JWS)
		}
	case *jwsFlag != "":
		verifyOne(*jwsFlag)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", slog.Any("error", err))
			os.Exit(1)
		}
		verifyOne(string(trimNewline(data)))
	}

	if failed {
		os.Exit(1)
	}
}

// pinnedKeyFile is the on-disk shape of a -pinned-keys JSON file: an array
// of issuer/kid/JWK triples.
type pinnedKeyFile struct {
	Issuer string          `json:"issuer"`
	Kid    string          `json:"kid"`
	JWK    jose.JSONWebKey `json:"jwk"`
}

func loadPinnedKeys(path string) ([]receipt.Pin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	var raw []pinnedKeyFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}

	pins := make([]receipt.Pin, 0, len(raw))
	for _, r := range raw {
		jwk := r.JWK
		thumb, err := jwk.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("compute thumbprint for issuer %q kid %q: %w", r.Issuer, r.Kid, err)
		}
		pins = append(pins, receipt.Pin{
			Issuer:              r.Issuer,
			Kid:                 r.Kid,
			JWKThumbprintSHA256: base64.RawURLEncoding.EncodeToString(thumb),
			JWK:                 &jwk,
		})
	}
	return pins, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
