package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"studiobook/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// sqliteParams make every transaction BEGIN IMMEDIATE, so the capacity check and the insert
// that follows it are serialized across connections.
const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// DB is the SQLite implementation of domain.Store and domain.JobStore.
type DB struct {
	*sql.DB
	queries
	path   string
	logger *zerolog.Logger
}

var (
	_ domain.Store    = (*DB)(nil)
	_ domain.JobStore = (*DB)(nil)
)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?"+sqliteParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, queries: queries{q: sqlDB}, path: path, logger: logger}, nil
}

// Path is the database file the store was opened with.
func (db *DB) Path() string { return db.path }

// InTx runs fn in one transaction. Any error from fn rolls it back.
func (db *DB) InTx(ctx context.Context, fn func(q domain.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapStorage(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapStorage(err, "commit transaction")
	}
	return nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS class_options (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            places INTEGER NOT NULL CHECK (places > 0),
            description TEXT NOT NULL DEFAULT '',
            type TEXT NOT NULL DEFAULT 'adult',
            trial_enabled BOOLEAN NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            telegram_id INTEGER NOT NULL DEFAULT 0,
            role TEXT NOT NULL DEFAULT 'user',
            parent_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS lessons (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL DEFAULT '',
            date INTEGER NOT NULL,
            start_time INTEGER NOT NULL,
            end_time INTEGER NOT NULL,
            class_option_id INTEGER NOT NULL REFERENCES class_options(id),
            location TEXT NOT NULL DEFAULT '',
            instructor_id INTEGER,
            lock_out_time INTEGER NOT NULL DEFAULT 0,
            original_lock_out_time INTEGER NOT NULL DEFAULT 0,
            active BOOLEAN NOT NULL DEFAULT 1,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            CHECK (end_time > start_time)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'waiting')),
            checked_in BOOLEAN NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS schedules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL DEFAULT '',
            start_date TEXT,
            end_date TEXT,
            default_class_option_id INTEGER NOT NULL DEFAULT 0,
            lock_out_time INTEGER,
            days TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at INTEGER NOT NULL,
            processed_at INTEGER,
            next_retry_at INTEGER
        )`,

		`CREATE INDEX IF NOT EXISTS idx_lessons_start ON lessons(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_tenant_start ON lessons(tenant_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_class_option ON lessons(class_option_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_lesson_status ON bookings(lesson_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_parent ON users(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
