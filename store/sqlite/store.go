package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/job"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store  = (*Store)(nil)
	_ cron.Store = (*Store)(nil)
	_ dlq.Store  = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ownsDB bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates a new SQLite store from a DSN. The store owns the database
// handle and closes it on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("conveyor/sqlite: ping: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// New creates a new SQLite store from an existing handle. The caller owns
// the db lifecycle; the Store will not close it.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrations are applied in order; each entry runs once and is recorded in
// conveyor_migrations by name.
var migrations = []struct {
	name string
	stmt string
}{
	{
		name: "001_create_jobs",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_jobs (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				queue        TEXT NOT NULL DEFAULT 'default',
				payload      BLOB,
				state        TEXT NOT NULL DEFAULT 'pending',
				priority     INTEGER NOT NULL DEFAULT 1,
				attempt      INTEGER NOT NULL DEFAULT 1,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				last_error   TEXT NOT NULL DEFAULT '',
				worker_id    TEXT NOT NULL DEFAULT '',
				enqueued_at  TEXT NOT NULL,
				run_at       TEXT NOT NULL,
				started_at   TEXT,
				completed_at TEXT,
				heartbeat_at TEXT,
				timeout      INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_dequeue
				ON conveyor_jobs (queue, priority DESC, run_at ASC, id ASC)
				WHERE state IN ('pending', 'retrying');
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_state
				ON conveyor_jobs (state);
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_heartbeat
				ON conveyor_jobs (heartbeat_at)
				WHERE state = 'running';`,
	},
	{
		name: "002_create_cron_entries",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_cron_entries (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL UNIQUE,
				schedule     TEXT NOT NULL,
				job_name     TEXT NOT NULL,
				queue        TEXT NOT NULL DEFAULT '',
				payload      BLOB,
				last_run_at  TEXT,
				next_run_at  TEXT,
				locked_by    TEXT,
				locked_until TEXT,
				enabled      INTEGER NOT NULL DEFAULT 1,
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL
			);`,
	},
	{
		name: "003_create_dlq",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_dlq (
				id           TEXT PRIMARY KEY,
				job_id       TEXT NOT NULL,
				job_name     TEXT NOT NULL,
				queue        TEXT NOT NULL,
				payload      BLOB,
				error        TEXT NOT NULL DEFAULT '',
				attempts     INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 0,
				priority     INTEGER NOT NULL DEFAULT 1,
				failed_at    TEXT NOT NULL,
				replayed_at  TEXT,
				created_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_conveyor_dlq_failed_at
				ON conveyor_dlq (failed_at ASC);`,
	},
}

// Migrate applies all pending schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conveyor_migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_migrations WHERE name = ?)`,
			m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/sqlite: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		if _, execErr := s.db.ExecContext(ctx, m.stmt); execErr != nil {
			return fmt.Errorf("conveyor/sqlite: execute migration %s: %w", m.name, execErr)
		}
		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO conveyor_migrations (name, applied_at) VALUES (?, ?)`,
			m.name, fmtTime(time.Now().UTC()),
		); recErr != nil {
			return fmt.Errorf("conveyor/sqlite: record migration %s: %w", m.name, recErr)
		}

		s.logger.Info("applied migration", "name", m.name)
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle if the store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout is fixed-width RFC 3339 in UTC. Unlike RFC3339Nano it never
// trims trailing zeros, so stored values sort lexicographically, which the
// dequeue and purge comparisons rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // stored values are written by fmtTime
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
