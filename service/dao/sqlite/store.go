// Package sqlite provides the durable store implementations backed by a
// single SQLite database. The invariants the memory stores enforce with a
// mutex (single active approval, single success execution, one active job
// per entity, atomic claim) live here as partial unique indexes and
// conditional updates.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/autoact/autoact/service/dao"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the SQLite connection configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store owns the database handle shared by the per-entity stores.
type Store struct {
	db     *sql.DB
	config Config
}

// New creates an uninitialised store; call Init before use.
func New(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	return &Store{config: config}, nil
}

// Init opens the database in WAL mode and verifies the connection.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s.db = db
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Decisions returns the decision store bound to this database.
func (s *Store) Decisions() *DecisionStore { return &DecisionStore{db: s.db} }

// Executions returns the execution store bound to this database.
func (s *Store) Executions() *ExecutionStore { return &ExecutionStore{db: s.db} }

// Jobs returns the job store bound to this database.
func (s *Store) Jobs() *JobStore { return &JobStore{db: s.db} }

// Runs returns the playbook run store bound to this database.
func (s *Store) Runs() *RunStore { return &RunStore{db: s.db} }

// Rules returns the policy rule store bound to this database.
func (s *Store) Rules() *RuleStore { return &RuleStore{db: s.db} }

// translateErr maps driver-level failures onto the dao sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", err.Error(), dao.ErrConflict)
	}
	return err
}
