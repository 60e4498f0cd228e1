// Package main provides the entry point for the audit ledger server.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/audit-engine/go-core/internal/api"
	"github.com/audit-engine/go-core/internal/bundle"
	"github.com/audit-engine/go-core/internal/canonical"
	"github.com/audit-engine/go-core/internal/config"
	"github.com/audit-engine/go-core/internal/db"
	"github.com/audit-engine/go-core/internal/ledger"
	"github.com/audit-engine/go-core/internal/metrics"
	"github.com/audit-engine/go-core/internal/verification"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		verifyBundle = flag.String("verify-bundle", "", "Verify a bundle JSON file and exit")
		strictSeq    = flag.Bool("strict-sequence", true, "Require contiguous sequences when verifying")
		requireSig   = flag.Bool("require-signature", false, "Require a signature when verifying")
		genKey       = flag.Bool("gen-ed25519-seed", false, "Generate an Ed25519 signing seed and exit")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *genKey {
		os.Exit(runGenerateSeed())
	}

	if *showVersion {
		fmt.Printf("audit-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	signer, err := cfg.Signing.BuildSigner()
	if err != nil {
		logger.Fatal("failed to build signer", zap.Error(err))
	}
	var bundleSigner *bundle.BundleSigner
	if signer != nil {
		bundleSigner = bundle.NewBundleSigner(signer)
	}

	if *verifyBundle != "" {
		os.Exit(runVerifyBundle(*verifyBundle, bundleSigner, *requireSig, *strictSeq))
	}

	logger.Info("starting audit ledger server",
		zap.String("version", Version),
		zap.String("storage", cfg.Storage.Type),
		zap.Int("port", cfg.Server.Port),
	)

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.Mirror.Enabled {
		mirror, err := ledger.NewMirror(cfg.Mirror.Path,
			cfg.Mirror.MaxSizeMB, cfg.Mirror.MaxAgeDays, cfg.Mirror.MaxBackups)
		if err != nil {
			logger.Fatal("failed to open event mirror", zap.Error(err))
		}
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(mirror))
	}
	ldg := ledger.NewLedger(store, ledgerOpts...)
	defer ldg.Close()

	var m metrics.Metrics = metrics.NewNoOpMetrics()
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Host = cfg.Server.Host
	apiCfg.Port = cfg.Server.Port
	apiCfg.ReadTimeout = cfg.Server.ReadTimeout
	apiCfg.WriteTimeout = cfg.Server.WriteTimeout
	apiCfg.MaxBodySize = cfg.Server.MaxBodyBytes
	apiCfg.RequireSignature = cfg.Verification.RequireSignature
	apiCfg.StrictSequence = cfg.Verification.StrictSequence
	apiCfg.EnableMetrics = cfg.Metrics.Enabled

	srv, err := api.New(apiCfg, ldg, bundleSigner, m, logger)
	if err != nil {
		logger.Fatal("failed to create API server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// buildStore creates the configured ledger store, applying migrations for
// postgres when enabled.
func buildStore(cfg *config.Config, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return ledger.NewMemoryStore(), nil

	case "sqlite":
		return ledger.NewSQLiteStore(cfg.Storage.SQLitePath)

	case "postgres":
		store, err := ledger.OpenPostgresStore(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.AutoMigrate {
			runner, err := db.NewMigrationRunner(store.DB(), logger)
			if err != nil {
				return nil, err
			}
			if err := runner.Up(); err != nil {
				return nil, err
			}
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// runVerifyBundle verifies a bundle file offline and prints the result.
// Returns the process exit code: 0 for a passing bundle, 1 otherwise.
func runVerifyBundle(path string, signer *bundle.BundleSigner, requireSig, strictSeq bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read bundle: %v\n", err)
		return 1
	}

	var b map[string]interface{}
	if err := canonical.DecodeJSON(data, &b); err != nil {
		fmt.Fprintf(os.Stderr, "parse bundle: %v\n", err)
		return 1
	}

	var verifier bundle.BundleVerifier
	if signer != nil {
		verifier = signer
	}

	svc := verification.NewService(verifier, nil)
	resp := svc.Verify(verification.Request{
		Bundle:           b,
		RequireSignature: requireSig,
		StrictSequence:   strictSeq,
	})

	if resp.OK {
		fmt.Printf("PASS tenant=%s events=%d\n", resp.Details.TenantID, resp.Details.EventCount)
		return 0
	}

	fmt.Printf("FAIL tenant=%s events=%d\n", resp.Details.TenantID, resp.Details.EventCount)
	for _, e := range resp.Errors {
		fmt.Printf("  - %s\n", e)
	}
	return 1
}

// runGenerateSeed prints a fresh signing seed for signing.ed25519_seed_b64.
func runGenerateSeed() int {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		fmt.Fprintf(os.Stderr, "generate seed: %v\n", err)
		return 1
	}

	signer, err := bundle.NewEd25519SignerFromSeed(seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "derive keypair: %v\n", err)
		return 1
	}

	fmt.Printf("ed25519_seed_b64: %s\n", base64.StdEncoding.EncodeToString(seed))
	fmt.Printf("public_key_b64:   %s\n", base64.StdEncoding.EncodeToString(signer.PublicKey()))
	fmt.Printf("fingerprint:      %s\n", signer.Fingerprint())
	return 0
}

// initLogger initializes the zap logger.
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
