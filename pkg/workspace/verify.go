// Package workspace verifies the local data directory and the services botpilot
// depends on before the controller starts.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"botpilot/pkg/backend"
	"botpilot/pkg/config"
	"botpilot/pkg/logx"
	"botpilot/pkg/persistence"
	"botpilot/pkg/persistence/redisstore"
	"botpilot/pkg/preflight"
)

// VerifyOptions configures verification behavior.
type VerifyOptions struct {
	Logger  *logx.Logger  // Logger for verification process
	Timeout time.Duration // Upper bound for network checks
	Fast    bool          // Skip the account backend check
}

// VerifyReport contains the results of verification.
type VerifyReport struct {
	Durations map[string]time.Duration // Step timings
	Warnings  []string                 // Non-fatal diagnostics (runtime missing, backend down)
	Failures  []string                 // Problems that prevent the controller from starting
	OK        bool                     // High-level success flag
}

// Verify checks the data directory layout, the persistence backend, the
// automation runtime and, unless opts.Fast, the account backend.
func Verify(ctx context.Context, cfg *config.Config, opts VerifyOptions) (*VerifyReport, error) {
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("verify")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	rep := &VerifyReport{
		OK:        true,
		Warnings:  []string{},
		Failures:  []string{},
		Durations: map[string]time.Duration{},
	}

	fail := func(msg string, args ...any) {
		formatted := fmt.Sprintf(msg, args...)
		rep.Failures = append(rep.Failures, formatted)
		rep.OK = false
		opts.Logger.Error("Verification failure: %s", formatted)
	}
	warn := func(msg string, args ...any) {
		formatted := fmt.Sprintf(msg, args...)
		rep.Warnings = append(rep.Warnings, formatted)
		opts.Logger.Warn("Verification warning: %s", formatted)
	}

	opts.Logger.Info("Starting verification of %s", cfg.DataDir)

	start := time.Now()
	verifyDirectories(cfg, fail)
	rep.Durations["dirs"] = time.Since(start)

	start = time.Now()
	if err := verifyPersistence(ctx, cfg, opts.Timeout, fail, warn); err != nil {
		return rep, fmt.Errorf("persistence check failed: %w", err)
	}
	rep.Durations["persistence"] = time.Since(start)

	start = time.Now()
	info := preflight.ProbeRuntime(ctx, cfg.Runtime.Command, cfg.Runtime.Dir)
	if !info.Installed {
		warn("automation runtime %q not found; launches will be blocked until it is installed", cfg.Runtime.Command)
	}
	rep.Durations["runtime"] = time.Since(start)

	if !opts.Fast {
		start = time.Now()
		verifyBackend(ctx, cfg, opts.Timeout, warn)
		rep.Durations["backend"] = time.Since(start)
	}

	opts.Logger.Info("Verification completed: ok=%v, warnings=%d, failures=%d",
		rep.OK, len(rep.Warnings), len(rep.Failures))
	return rep, nil
}

// verifyDirectories creates every directory the controller writes to and
// checks that the data directory is writable.
func verifyDirectories(cfg *config.Config, fail func(string, ...any)) {
	dirs := []string{cfg.DataDir, cfg.Logs.Dir, filepath.Dir(cfg.Runtime.ConfigPath)}
	if cfg.Runtime.StateDir != "" {
		dirs = append(dirs, cfg.Runtime.StateDir)
	}
	if !cfg.EventLog.Disabled {
		dirs = append(dirs, cfg.EventLog.Dir)
	}
	if cfg.Persistence.Backend == config.BackendSQLite {
		dirs = append(dirs, filepath.Dir(cfg.Persistence.SQLitePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fail("cannot create %s: %v", dir, err)
		}
	}

	probe, err := os.CreateTemp(cfg.DataDir, ".verify-*")
	if err != nil {
		fail("data directory %s is not writable: %v", cfg.DataDir, err)
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
}

func verifyPersistence(ctx context.Context, cfg *config.Config, timeout time.Duration, fail, warn func(string, ...any)) error {
	switch cfg.Persistence.Backend {
	case config.BackendSQLite:
		return validateDatabaseSchema(cfg.Persistence.SQLitePath, fail, warn)
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		r := cfg.Persistence.Redis
		store, err := redisstore.New(r.Addr, redisstore.WithPassword(r.Password), redisstore.WithDB(r.DB))
		if err != nil {
			fail("redis at %s is not reachable: %v", r.Addr, err)
			return nil
		}
		defer func() { _ = store.Close() }()
		if _, err := store.LoadTotals(ctx); err != nil {
			fail("cannot read totals from redis: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// validateDatabaseSchema checks the schema version of an existing database. A
// missing file is fine; it is created on first start.
func validateDatabaseSchema(dbPath string, fail, warn func(string, ...any)) error {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if pingErr := db.Ping(); pingErr != nil {
		fail("database connection failed: %v", pingErr)
		return nil
	}

	currentVersion, err := persistence.GetSchemaVersion(db)
	if err != nil {
		fail("cannot read schema version of %s: %v", dbPath, err)
		return nil
	}

	expectedVersion := persistence.CurrentSchemaVersion
	switch {
	case currentVersion > expectedVersion:
		fail("database schema version %d is newer than supported version %d", currentVersion, expectedVersion)
	case currentVersion < expectedVersion:
		warn("database schema version %d will be migrated to %d", currentVersion, expectedVersion)
	}
	return nil
}

func verifyBackend(ctx context.Context, cfg *config.Config, timeout time.Duration, warn func(string, ...any)) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client := backend.NewClient(cfg.API.URL, cfg.API.Key, timeout)
	if _, err := client.Credits(ctx); err != nil {
		warn("account backend at %s is not reachable: %v", cfg.API.URL, err)
	}
}
