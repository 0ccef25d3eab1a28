package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schema embed.FS

// versionTable keeps closeframe's schema version apart from any other
// golang-migrate user sharing the database.
const versionTable = "closeframe_schema_migrations"

var ErrNoDatabase = errors.New("migration_database_required")

// Up applies pending postgres migrations and returns the resulting schema
// version. A current schema is not an error.
func Up(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, ErrNoDatabase
	}

	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionTable})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return 0, fmt.Errorf("migrator: %w", err)
	}
	// m.Close is not called: it would close the shared pool.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
