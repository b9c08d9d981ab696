package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed persistence layer for projects, endpoints, runs,
// and their snapshots. SQLite serializes writes, so the pool is capped to
// a single connection.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path string
	// WAL enables Write-Ahead Logging for concurrent readers during a run.
	WAL bool
}

// New opens the database, configures pragmas, and runs migrations.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, log: log}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			auth_spec_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects(updated_at)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			description TEXT,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			default_users INTEGER NOT NULL DEFAULT 10,
			default_requests INTEGER,
			default_duration_seconds INTEGER,
			content_type TEXT,
			body BLOB,
			insecure_tls INTEGER NOT NULL DEFAULT 0,
			requires_auth INTEGER NOT NULL DEFAULT 0,
			headers_json TEXT,
			auth_spec_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_project_id ON endpoints(project_id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_token TEXT NOT NULL UNIQUE,
			endpoint_id INTEGER REFERENCES endpoints(id) ON DELETE SET NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			users INTEGER NOT NULL,
			target_requests INTEGER,
			target_duration_seconds INTEGER,
			content_type TEXT,
			body BLOB,
			headers_json TEXT,
			insecure_tls INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			total INTEGER NOT NULL DEFAULT 0,
			successful INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			peak_rps REAL NOT NULL DEFAULT 0,
			avg_ms REAL NOT NULL DEFAULT 0,
			min_ms INTEGER NOT NULL DEFAULT 0,
			max_ms INTEGER NOT NULL DEFAULT 0,
			p50_ms INTEGER NOT NULL DEFAULT 0,
			p75_ms INTEGER NOT NULL DEFAULT 0,
			p90_ms INTEGER NOT NULL DEFAULT 0,
			p95_ms INTEGER NOT NULL DEFAULT 0,
			p99_ms INTEGER NOT NULL DEFAULT 0,
			status_breakdown_json TEXT,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_endpoint_id ON runs(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			ts TEXT NOT NULL,
			total INTEGER NOT NULL,
			successful INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			status_code INTEGER NOT NULL,
			avg_ms REAL NOT NULL,
			current_rps REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run_id ON snapshots(run_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// formatTime writes a fixed-width UTC timestamp (nine fractional digits, no
// trailing-zero trimming) so that ORDER BY and range comparisons on the
// stored text follow time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
