// Command peac-export builds a bundle (spec §6) from the receipts a prior
// peac-issue run emitted. It reads newline-delimited {claims, jws}
// envelopes (the format peac-issue writes to stdout) from stdin, filters
// them by audience/issuer, and writes a manifest.json + receipts/
// directory to -out.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"peaccore/internal/bundle"
	"peaccore/internal/receipt"
)

type issuedEnvelope struct {
	Claims receipt.Claims `json:"claims"`
	JWS    string         `json:"jws"`
}

func main() {
	outDir := flag.String("out", "", "bundle output directory (required)")
	issFilter := flag.String("iss", "", "only include receipts with this issuer")
	audFilter := flag.String("aud", "", "only include receipts with this audience")
	logLevel := flag.String("log-level", "info", "log level: debug | info | warn | error")
	flag.Parse()

	if *outDir == "" {
		fmt.Fprintln(os.Stderr, "peac-export: -out is required")
		os.Exit(1)
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var issued []receipt.Issued
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env issuedEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.Warn("skipping malformed receipt line", slog.Any("error", err))
			continue
		}
		issued = append(issued, receipt.Issued{JWS: env.JWS, Claims: env.Claims})
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading stdin", slog.Any("error", err))
		os.Exit(1)
	}

	filters := bundle.Filters{Iss: *issFilter, Aud: *audFilter}
	if err := bundle.Write(*outDir, issued, filters, time.Now()); err != nil {
		logger.Error("failed to write bundle", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("bundle written", slog.String("dir", *outDir), slog.Int("scanned", len(issued)))
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
