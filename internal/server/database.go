package server

import (
	"context"
	"log/slog"

	"github.com/keshly/keshly/internal/common"
	repo "github.com/keshly/keshly/internal/repository"
)

func dbConfig(cfg common.DatabaseConfig) repo.Config {
	return repo.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}
}

// ConnectDB migrates the schema when configured, opens the database and
// verifies it answers.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := dbConfig(cfg)

	if cfg.AutoMigrate {
		if err := repo.Migrate(rc, logger); err != nil {
			logger.Error("failed to migrate database", "error", err)
			return nil, err
		}
	}

	logger.Info("connecting to database", "driver", rc.Driver)
	db, err := repo.Open(ctx, rc, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if err := db.HealthCheck(ctx, rc.DialTimeout, logger); err != nil {
		db.Close(logger)
		return nil, err
	}

	logger.Info("successfully connected to database")
	return db, nil
}
