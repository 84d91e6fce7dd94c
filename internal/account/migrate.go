package account

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationResult describes the schema version before and after Migrate.
type MigrationResult struct {
	From uint
	To   uint
}

// Migrate applies the embedded Postgres migrations to databaseURL.
func Migrate(databaseURL string) (MigrationResult, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return MigrationResult{}, fmt.Errorf("database ping failed: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		return MigrationResult{}, err
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("check migration version: %w", err)
	}
	if dirty {
		return MigrationResult{From: from}, fmt.Errorf("database is in a dirty state (version %d), manual intervention required", from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Uint("version", from).Msg("database schema is up to date")
			return MigrationResult{From: from, To: from}, nil
		}
		return MigrationResult{From: from}, fmt.Errorf("apply migrations: %w", err)
	}

	to, _, err := m.Version()
	if err != nil {
		return MigrationResult{From: from}, fmt.Errorf("check migration version: %w", err)
	}
	log.Info().Uint("from", from).Uint("to", to).Msg("database schema migrated")
	return MigrationResult{From: from, To: to}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}
