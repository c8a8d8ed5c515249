// Command peac-diagnostics runs the read-only diagnostics HTTP server
// (internal/diagnostics) over a spool, dedupe index, and policy document,
// shutting down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peaccore/internal/config"
	"peaccore/internal/diagnostics"
	"peaccore/internal/policy"
	"peaccore/internal/spool"
)

func main() {
	configPath := flag.String("config", "/etc/peaccore/config.yaml", "path to the peaccore YAML configuration file")
	policyPath := flag.String("policy", "", "path to the policy document YAML file (optional)")
	profileFlag := flag.String("profile", string(policy.DefaultProfile), "enforcement profile: strict | balanced | open")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peac-diagnostics: %v\n", err)
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

	var doc policy.Document
	if *policyPath != "" {
		doc, err = policy.LoadDocument(*policyPath)
		if err != nil {
			logger.Error("failed to load policy document", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var pubKey *rsa.PublicKey
	if cfg.Diagnostics.JWTPublicKeyPath != "" {
		pubKey, err = loadRSAPublicKey(cfg.Diagnostics.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("no jwt_public_key_path configured; diagnostics authentication disabled (dev mode)")
	}

	srv := diagnostics.NewServer(store, dedupe, doc, policy.ProfileName(*profileFlag))
	handler := diagnostics.NewRouter(srv, pubKey)

	httpServer := &http.Server{
		Addr:         cfg.Diagnostics.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics server listening", slog.String("addr", cfg.Diagnostics.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("diagnostics server: %w", err)
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("diagnostics server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("diagnostics server shutdown error", slog.Any("error", err))
	}

	logger.Info("peac-diagnostics exited cleanly")
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%q: no PEM block found", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%q: parse public key: %w", path, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%q: not an RSA public key", path)
	}
	return rsaPub, nil
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
