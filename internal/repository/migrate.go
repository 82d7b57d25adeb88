package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations on a dedicated connection.
func Migrate(cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sqlDriver string
		dir       string
	)
	switch cfg.Driver {
	case DriverSQLite:
		sqlDriver, dir = "sqlite", "migrations/sqlite"
	case DriverPostgres, "":
		sqlDriver, dir = "pgx", "migrations/postgres"
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	// Separate connection so closing the migrator never touches the main pool.
	migrateDB, err := sql.Open(sqlDriver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	var (
		driver database.Driver
		name   string
	)
	if sqlDriver == "sqlite" {
		driver, err = sqlite.WithInstance(migrateDB, &sqlite.Config{})
		name = "sqlite"
	} else {
		driver, err = migratepgx.WithInstance(migrateDB, &migratepgx.Config{})
		name = "pgx5"
	}
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", name, err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("db.migrate.ok", "driver", name, "version", version, "dirty", dirty)
	return nil
}
