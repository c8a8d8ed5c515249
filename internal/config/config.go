// Package config provides YAML configuration loading and validation for
// peaccore binaries. Grounded directly on the teacher's
// internal/config/config.go: read file, unmarshal, apply defaults,
// validate, collect all errors with errors.Join rather than failing fast
// on the first one.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"peaccore/internal/spool"
)

// Config is the top-level configuration for a peaccore binary.
type Config struct {
	Spool    SpoolConfig    `yaml:"spool"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Hasher   HasherConfig   `yaml:"hasher"`
	Verifier VerifierConfig `yaml:"verifier"`
	LogLevel string         `yaml:"log_level"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// SpoolConfig configures internal/spool.Store (spec §6).
type SpoolConfig struct {
	FilePath             string `yaml:"file_path"`
	MaxEntries           int64  `yaml:"max_entries"`
	MaxFileBytes         int64  `yaml:"max_file_bytes"`
	MaxLineBytes         int    `yaml:"max_line_bytes"`
	AutoCommitIntervalMs int64  `yaml:"auto_commit_interval_ms"`
	AllowStaleLockBreak  bool   `yaml:"allow_stale_lock_break"`
	StaleLockMaxAgeMs    int64  `yaml:"stale_lock_max_age_ms"`
}

// ToOptions converts SpoolConfig into spool.Options, routing warnings
// through logger at Warn level (spec §7: "warnings are surfaced through a
// caller-supplied warning sink").
func (c SpoolConfig) ToOptions(logger *slog.Logger) spool.Options {
	return spool.Options{
		FilePath:             c.FilePath,
		MaxEntries:           c.MaxEntries,
		MaxFileBytes:         c.MaxFileBytes,
		MaxLineBytes:         c.MaxLineBytes,
		AutoCommitIntervalMs: c.AutoCommitIntervalMs,
		AllowStaleLockBreak:  c.AllowStaleLockBreak,
		StaleLockMaxAgeMs:    c.StaleLockMaxAgeMs,
		OnWarning: func(msg string) {
			logger.Warn("spool warning", slog.String("message", msg))
		},
	}
}

// DedupeConfig selects and configures the dedupe index backend (spec §4.3).
type DedupeConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// HasherConfig configures internal/canon digest truncation (spec §6).
type HasherConfig struct {
	TruncateThreshold int `yaml:"truncate_threshold"`
}

// VerifierConfig configures internal/receipt.Policy (spec §6).
type VerifierConfig struct {
	Mode               string   `yaml:"mode"`
	IssuerAllowlist    []string `yaml:"issuer_allowlist"`
	MaxReceiptBytes    int      `yaml:"max_receipt_bytes"`
	MaxExtensionBytes  int      `yaml:"max_extension_bytes"`
	MaxJWKSKeys        int      `yaml:"max_jwks_keys"`
	DiscoveryTimeoutMs int64    `yaml:"discovery_timeout_ms"`
}

// DiagnosticsConfig configures the read-only diagnostics HTTP surface
// (spec §4 diagnostics/metering surface; explicitly an external
// collaborator, §1).
type DiagnosticsConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validDedupeBackends = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
var validVerifierModes = map[string]bool{"offline_only": true, "offline_preferred": true, "network_preferred": true}
var validTruncThresholds = map[int]bool{64 * 1024: true, 1024 * 1024: true}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates. It returns a typed error joining every
// validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Spool.MaxLineBytes <= 0 {
		cfg.Spool.MaxLineBytes = 10 * 1024 * 1024
	}
	if cfg.Dedupe.Backend == "" {
		cfg.Dedupe.Backend = "memory"
	}
	if cfg.Hasher.TruncateThreshold == 0 {
		cfg.Hasher.TruncateThreshold = 64 * 1024
	}
	if cfg.Verifier.Mode == "" {
		cfg.Verifier.Mode = "offline_preferred"
	}
	if cfg.Verifier.MaxReceiptBytes <= 0 {
		cfg.Verifier.MaxReceiptBytes = 16 * 1024
	}
	if cfg.Verifier.MaxExtensionBytes <= 0 {
		cfg.Verifier.MaxExtensionBytes = 4096
	}
	if cfg.Verifier.MaxJWKSKeys <= 0 {
		cfg.Verifier.MaxJWKSKeys = 32
	}
	if cfg.Verifier.DiscoveryTimeoutMs <= 0 {
		cfg.Verifier.DiscoveryTimeoutMs = 5000
	}
	if cfg.Diagnostics.ListenAddr == "" {
		cfg.Diagnostics.ListenAddr = "127.0.0.1:9100"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Spool.FilePath == "" {
		errs = append(errs, errors.New("spool.file_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validDedupeBackends[cfg.Dedupe.Backend] {
		errs = append(errs, fmt.Errorf("dedupe.backend %q must be one of: memory, sqlite, postgres", cfg.Dedupe.Backend))
	}
	if cfg.Dedupe.Backend == "sqlite" && cfg.Dedupe.SQLitePath == "" {
		errs = append(errs, errors.New("dedupe.sqlite_path is required when dedupe.backend is sqlite"))
	}
	if cfg.Dedupe.Backend == "postgres" && cfg.Dedupe.PostgresDSN == "" {
		errs = append(errs, errors.New("dedupe.postgres_dsn is required when dedupe.backend is postgres"))
	}
	if !validTruncThresholds[cfg.Hasher.TruncateThreshold] {
		errs = append(errs, fmt.Errorf("hasher.truncate_threshold %d must be 65536 or 1048576", cfg.Hasher.TruncateThreshold))
	}
	if !validVerifierModes[cfg.Verifier.Mode] {
		errs = append(errs, fmt.Errorf("verifier.mode %q must be one of: offline_only, offline_preferred, network_preferred", cfg.Verifier.Mode))
	}

	return errors.Join(errs...)
}
