// Command peac-issue walks a spool for entries the dedupe index has not
// yet marked emitted, issues a receipt for each, marks it emitted, and
// writes the resulting compact JWS (one per line, as an envelope carrying
// the claims alongside it) to stdout.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"peaccore/internal/config"
	"peaccore/internal/receipt"
	"peaccore/internal/spool"
)

func main() {
	configPath := flag.String("config", "/etc/peaccore/config.yaml", "path to the peaccore YAML configuration file")
	keyPath := flag.String("signing-key", "", "path to a raw 32-byte Ed25519 private key seed")
	kid := flag.String("kid", "", "key id to embed in issued receipts")
	iss := flag.String("iss", "", "issuer URL (https://...) for issued receipts")
	aud := flag.String("aud", "", "audience URL (https://...) for issued receipts")
	flag.Parse()

	if *keyPath == "" || *kid == "" || *iss == "" || *aud == "" {
		fmt.Fprintln(os.Stderr, "peac-issue: -signing-key, -kid, -iss, and -aud are all required")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peac-issue: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	priv, err := loadSigningKey(*keyPath)
	if err != nil {
		logger.Error("failed to load signing key", slog.Any("error", err))
		os.Exit(1)
	}

	issuer, err := receipt.NewIssuer(receipt.IssuerOptions{
		Kid:               *kid,
		PrivateKey:        priv,
		MaxExtensionBytes: cfg.Verifier.MaxExtensionBytes,
	})
	if err != nil {
		logger.Error("failed to construct issuer", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := spool.Open(cfg.Spool.ToOptions(logger))
	if err != nil {
		logger.Error("failed to open spool", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	dedupe, dedupeCloser, err := cfg.Dedupe.OpenDedupeIndex(ctx)
	if err != nil {
		logger.Error("failed to open dedupe index", slog.Any("error", err))
		os.Exit(1)
	}
	defer dedupeCloser.Close()

	entries, err := store.Read(1, 0)
	if err != nil {
		logger.Error("failed to read spool", slog.Any("error", err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	issuedCount := 0

	for _, entry := range entries {
		dedupeEntry, ok, err := dedupe.Get(ctx, entry.Action.ID)
		if err != nil {
			logger.Error("dedupe lookup failed", slog.String("action_id", entry.Action.ID), slog.Any("error", err))
			os.Exit(1)
		}
		if ok && dedupeEntry.Emitted {
			continue
		}

		snapshot, err := json.Marshal(entry.Action)
		if err != nil {
			logger.Error("failed to snapshot action", slog.String("action_id", entry.Action.ID), slog.Any("error", err))
			os.Exit(1)
		}

		issued, err := issuer.Issue(receipt.Claims{
			Iss:             *iss,
			Aud:             *aud,
			Cur:             "USD",
			SubjectSnapshot: snapshot,
			Payment: receipt.Payment{
				Rail:      "peac.capture",
				Reference: entry.EntryDigest,
				Env:       receipt.EnvLive,
			},
		})
		if err != nil {
			logger.Error("failed to issue receipt", slog.String("action_id", entry.Action.ID), slog.Any("error", err))
			os.Exit(1)
		}

		if err := encoder.Encode(issuedEnvelope{Claims: issued.Claims, JWS: issued.JWS}); err != nil {
			logger.Error("failed to write receipt", slog.Any("error", err))
			os.Exit(1)
		}

		if err := dedupe.MarkEmitted(ctx, entry.Action.ID); err != nil {
			logger.Error("failed to mark entry emitted", slog.String("action_id", entry.Action.ID), slog.Any("error", err))
			os.Exit(1)
		}
		issuedCount++
	}

	logger.Info("peac-issue complete", slog.Int("issued", issuedCount), slog.Int("scanned", len(entries)))
}

type issuedEnvelope struct {
	Claims receipt.Claims `json:"claims"`
	JWS    string         `json:"jws"`
}

func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %q must be exactly %d raw bytes, got %d", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
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
