package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	// Go migrations register themselves with goose on init
	_ "github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage/migrations"
)

// runMigrations applies every pending goose migration.
func (s *Storage) runMigrations(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, nil)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, r := range results {
		s.logger.Info("migration applied",
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}

	return nil
}

// SchemaVersion returns the current goose schema version.
func (s *Storage) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, nil)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
