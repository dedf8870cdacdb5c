package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"power-env-alerts/internal/httpapi"
	"power-env-alerts/internal/service"
	"power-env-alerts/internal/version"
)

// Serve runs the HTTP ingest server: reading intake, status and event
// queries, the websocket live feed, and the metrics endpoint, with
// periodic baseline snapshots in the background.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil && a.Config.Database.AdvisoryLockKey != 0 {
		unlock, err := service.AcquireLock(ctx, store, a.Config.Database.AdvisoryLockKey, a.Logger)
		if err != nil {
			return err
		}
		defer unlock()
	}

	svc, err := a.buildService(store, a.newBaselineStore(), a.newNotifier())
	if err != nil {
		return err
	}
	defer svc.Close()

	var dbHealth func(context.Context) error
	if store != nil {
		dbHealth = store.Ping
	}
	server := httpapi.NewServer(a.Config, svc, dbHealth, a.Logger)

	a.Logger.Info().
		Str("addr", a.Config.HTTP.Addr).
		Str("version", version.Short()).
		Msg("starting ingest service")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		return a.runMaintenance(groupCtx, svc)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingest service stopped")
	return nil
}

// runMaintenance persists the baseline and logs an engine summary on the
// configured cadence until the context is cancelled.
func (a *App) runMaintenance(ctx context.Context, svc *service.Service) error {
	sched := a.newScheduler("baseline-snapshot", a.Config.Baseline.SaveInterval)
	err := sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		if err := svc.SaveBaseline(); err != nil {
			return err
		}
		report := svc.Status(tickCtx)
		a.Logger.Info().
			Int64("processed", report.Engine.Processed).
			Int64("anomalous", report.Engine.Anomalous).
			Float64("rate", report.Engine.AnomalyRate).
			Int("open_events", report.Engine.OpenEvents).
			Msg("engine status")
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
