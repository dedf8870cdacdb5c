package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"power-env-alerts/migrations"
)

// RunMigrations applies pending schema migrations. An empty dir runs the
// migrations embedded in the binary; a non-empty dir overrides them with
// files on disk.
func RunMigrations(ctx context.Context, dsn, dir string, logger zerolog.Logger) error {
	return withMigrationDB(dsn, dir, func(db *sql.DB, root string) error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		logger.Info().Str("dir", root).Msg("applying migrations")
		if err := goose.UpContext(runCtx, db, root); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info().Msg("migrations applied")
		return nil
	})
}

// MigrationStatus prints applied and pending migrations.
func MigrationStatus(ctx context.Context, dsn, dir string, logger zerolog.Logger) error {
	return withMigrationDB(dsn, dir, func(db *sql.DB, root string) error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		logger.Info().Str("dir", root).Msg("migration status")
		if err := goose.StatusContext(runCtx, db, root); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

func withMigrationDB(dsn, dir string, fn func(db *sql.DB, root string) error) error {
	if dsn == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	root := dir
	if root == "" {
		goose.SetBaseFS(migrations.FS)
		defer goose.SetBaseFS(nil)
		root = "."
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	return fn(db, root)
}
