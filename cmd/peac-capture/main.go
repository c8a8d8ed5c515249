// Command peac-capture is a demo capture pipeline adapter: it reads
// newline-delimited CapturedAction JSON from stdin, runs each through a
// capture.Session, and writes the Result as newline-delimited JSON to
// stdout. It stands in for the language/runtime-specific adapter spec.md
// §1 describes as "out of scope for the core" — a thin process boundary
// around the core capture pipeline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"peaccore/internal/canon"
	"peaccore/internal/capture"
	"peaccore/internal/config"
	"peaccore/internal/spool"
)

func main() {
	configPath := flag.String("config", "/etc/peaccore/config.yaml", "path to the peaccore YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peac-capture: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

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

	session := capture.New(store, dedupe,
		capture.WithLogger(logger),
		capture.WithTruncThreshold(canon.TruncThreshold(cfg.Hasher.TruncateThreshold)),
	)
	defer session.Close()

	logger.Info("peac-capture ready", slog.String("spool_path", cfg.Spool.FilePath))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var action spool.CapturedAction
		if err := json.Unmarshal(line, &action); err != nil {
			logger.Warn("skipping malformed action line", slog.Any("error", err))
			continue
		}

		result := session.Capture(ctx, action)
		if err := encoder.Encode(result); err != nil {
			logger.Error("failed to write result", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading stdin", slog.Any("error", err))
		os.Exit(1)
	}
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
