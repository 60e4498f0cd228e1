// Package config loads and validates the audit server configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audit-engine/go-core/internal/bundle"
)

// Config is the full server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Signing      SigningConfig      `yaml:"signing"`
	Verification VerificationConfig `yaml:"verification"`
	Mirror       MirrorConfig       `yaml:"mirror"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// StorageConfig selects and configures the ledger store.
type StorageConfig struct {
	// Type is one of "memory", "sqlite" or "postgres".
	Type        string `yaml:"type"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// AutoMigrate applies embedded migrations at startup (postgres only).
	AutoMigrate bool `yaml:"auto_migrate"`
}

// SigningConfig configures bundle signing. An empty algorithm disables
// signing.
type SigningConfig struct {
	// Algorithm is "", "ed25519" or "hmac-sha256".
	Algorithm string `yaml:"algorithm"`
	// Ed25519SeedB64 is a base64 32-byte seed. Empty generates an ephemeral
	// keypair at startup.
	Ed25519SeedB64 string `yaml:"ed25519_seed_b64"`
	// HMACSecret is the shared secret for hmac-sha256.
	HMACSecret string `yaml:"hmac_secret"`
}

// VerificationConfig sets the defaults applied by the verify endpoints.
type VerificationConfig struct {
	RequireSignature bool `yaml:"require_signature"`
	StrictSequence   bool `yaml:"strict_sequence"`
}

// MirrorConfig configures the rotated JSONL event mirror.
type MirrorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Storage: StorageConfig{
			Type:       "memory",
			SQLitePath: "data/audit.db",
		},
		Verification: VerificationConfig{
			RequireSignature: false,
			StrictSequence:   true,
		},
		Mirror: MirrorConfig{
			Enabled:    false,
			Path:       "logs/audit-events.jsonl",
			MaxSizeMB:  100,
			MaxAgeDays: 30,
			MaxBackups: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "audit",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("storage.type must be memory, sqlite or postgres, got %q", c.Storage.Type)
	}

	switch c.Signing.Algorithm {
	case "", bundle.AlgorithmEd25519:
	case bundle.AlgorithmHMACSHA256:
		if c.Signing.HMACSecret == "" {
			return fmt.Errorf("signing.hmac_secret is required for hmac-sha256")
		}
	default:
		return fmt.Errorf("signing.algorithm must be ed25519 or hmac-sha256, got %q", c.Signing.Algorithm)
	}

	if c.Verification.RequireSignature && c.Signing.Algorithm == "" {
		return fmt.Errorf("verification.require_signature needs signing.algorithm to be set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	if c.Mirror.Enabled && c.Mirror.Path == "" {
		return fmt.Errorf("mirror.path is required when the mirror is enabled")
	}

	return nil
}

// BuildSigner constructs the configured bundle signer, or nil when signing is
// disabled.
func (c *SigningConfig) BuildSigner() (bundle.Signer, error) {
	switch c.Algorithm {
	case "":
		return nil, nil
	case bundle.AlgorithmEd25519:
		if c.Ed25519SeedB64 == "" {
			return bundle.NewEd25519Signer()
		}
		seed, err := base64.StdEncoding.DecodeString(c.Ed25519SeedB64)
		if err != nil {
			return nil, fmt.Errorf("decode signing.ed25519_seed_b64: %w", err)
		}
		return bundle.NewEd25519SignerFromSeed(seed)
	case bundle.AlgorithmHMACSHA256:
		return bundle.NewHMACSigner([]byte(c.HMACSecret))
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", c.Algorithm)
	}
}
