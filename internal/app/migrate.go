package app

import (
	"context"
	"fmt"

	"power-env-alerts/internal/storage"
)

// Migrate applies or inspects the database schema.
func (a *App) Migrate(ctx context.Context, action string) error {
	dsn := a.Config.Database.DSN
	dir := a.Config.Database.MigrationsPath

	switch action {
	case "up":
		return storage.RunMigrations(ctx, dsn, dir, a.Logger)
	case "status":
		return storage.MigrationStatus(ctx, dsn, dir, a.Logger)
	default:
		return fmt.Errorf("unknown migrate action %q (expected up or status)", action)
	}
}
