package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/gatekeeper/migrations"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations. Goose needs a database/sql
// handle, so the pool is adapted through pgx's stdlib driver.
func Migrate(ctx context.Context, db *DB) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, r := range results {
		db.logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.String("duration", r.Duration.String()),
		)
	}

	return nil
}
