// Package storage picks the backend for the event log and template stores.
// The choice is made once per process.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ecortescl/ms-smtp/internal/config"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/internal/repository/filesystem"
	"github.com/ecortescl/ms-smtp/internal/repository/postgres"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

// Stores bundles the repositories of the active backend.
type Stores struct {
	EmailLogs repository.EmailLogRepository
	Templates repository.TemplateRepository

	// Provider is the backend actually in use, which can differ from the
	// configured one after a fallback.
	Provider string

	db *sqlx.DB
}

// Open builds the stores for cfg.Storage.Provider. If the relational
// backend cannot be initialized the file backend is used instead.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	if log == nil {
		log = logger.Nop()
	}

	if cfg.Storage.Provider == config.ProviderPostgres {
		stores, err := openPostgres(ctx, cfg.Database)
		if err == nil {
			log.Info().Str("provider", config.ProviderPostgres).Msg("storage initialized")
			return stores, nil
		}
		log.Warn().Err(err).Msg("postgres init failed, falling back to filesystem")
	}

	stores, err := openFilesystem(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("provider", config.ProviderFilesystem).
		Str("log_dir", cfg.Storage.LogDir).
		Str("templates_dir", cfg.Storage.TemplatesDir).
		Msg("storage initialized")
	return stores, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	base := postgres.NewBaseRepository(db)
	return &Stores{
		EmailLogs: postgres.NewEmailLogRepository(base, clock.System),
		Templates: postgres.NewTemplateRepository(base, clock.System),
		Provider:  config.ProviderPostgres,
		db:        db,
	}, nil
}

func openFilesystem(cfg config.StorageConfig, log *logger.Logger) (*Stores, error) {
	logs, err := filesystem.NewEmailLogRepository(cfg.LogDir, cfg.LogFileName, clock.System, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open email log store: %w", err)
	}
	templates, err := filesystem.NewTemplateRepository(cfg.TemplatesDir, clock.System, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open template store: %w", err)
	}
	return &Stores{
		EmailLogs: logs,
		Templates: templates,
		Provider:  config.ProviderFilesystem,
	}, nil
}

// Ping reports whether the backend is reachable. The file backend is
// always considered reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Close releases the database handle, if any.
func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
