package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"botpilot/pkg/logx"
	"botpilot/pkg/proto"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore keeps totals and session history in a local SQLite file.
type SQLiteStore struct {
	db          *sql.DB
	logger      *logx.Logger
	path        string
	busyTimeout time.Duration
	enableWAL   bool
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *SQLiteStore) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

// WithWAL toggles write-ahead logging.
func WithWAL(enabled bool) Option {
	return func(s *SQLiteStore) {
		s.enableWAL = enabled
	}
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		logger:      logx.NewLogger("persistence"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("📦 Database initialized: %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if err := initializeSchemaWithMigrations(s.db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// LoadTotals returns the persisted totals, or zero totals for a fresh database.
func (s *SQLiteStore) LoadTotals(ctx context.Context) (proto.Stats, error) {
	var t proto.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT jobs_found, jobs_applied, jobs_failed, credits_used FROM totals WHERE id = 1
	`).Scan(&t.JobsFound, &t.JobsApplied, &t.JobsFailed, &t.CreditsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return proto.Stats{}, nil
	}
	if err != nil {
		return proto.Stats{}, fmt.Errorf("failed to load totals: %w", err)
	}
	return t, nil
}

// SaveTotals replaces the persisted totals.
func (s *SQLiteStore) SaveTotals(ctx context.Context, totals proto.Stats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO totals (id, jobs_found, jobs_applied, jobs_failed, credits_used, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			jobs_found = excluded.jobs_found,
			jobs_applied = excluded.jobs_applied,
			jobs_failed = excluded.jobs_failed,
			credits_used = excluded.credits_used,
			updated_at = excluded.updated_at
	`, totals.JobsFound, totals.JobsApplied, totals.JobsFailed, totals.CreditsUsed, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save totals: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ Store = (*SQLiteStore)(nil)
