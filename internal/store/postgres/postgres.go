// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
// The pool is shared by every concurrent dispatch.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) FindApplication(ctx context.Context, id string) (*model.Application, error) {
	return queryFindApplication(ctx, s.db, id)
}

func (s *PostgresStore) FindOrganisation(ctx context.Context, id string) (*model.Organisation, error) {
	return queryFindOrganisation(ctx, s.db, id)
}

func (s *PostgresStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	return queryFindSession(ctx, s.db, id)
}

func (s *PostgresStore) FindAppUser(ctx context.Context, id string) (*model.AppUser, error) {
	return queryFindAppUser(ctx, s.db, id)
}

func (s *PostgresStore) FindBucket(ctx context.Context, id string) (*model.Bucket, error) {
	return queryFindBucket(ctx, s.db, id)
}

func (s *PostgresStore) AppendExecutionLog(ctx context.Context, entry *model.ExecutionLog) error {
	return queryAppendExecutionLog(ctx, s.db, entry)
}

func (s *PostgresStore) ListExecutionLogs(ctx context.Context, afterID int64, limit int) ([]*model.ExecutionLog, error) {
	return queryListExecutionLogs(ctx, s.db, afterID, limit)
}

// LoadArchiveCursor returns the last archived execution log id saved under
// name, or 0 when none was saved.
func (s *PostgresStore) LoadArchiveCursor(ctx context.Context, name string) (int64, error) {
	return queryLoadArchiveCursor(ctx, s.db, name)
}

// SaveArchiveCursor upserts the archive cursor for name.
func (s *PostgresStore) SaveArchiveCursor(ctx context.Context, name string, cursor int64) error {
	return querySaveArchiveCursor(ctx, s.db, name, cursor)
}
