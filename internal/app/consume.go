package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/ingest"
	"power-env-alerts/internal/service"
)

// Consume runs the live-feed loop: sensor payloads stream in from Kafka
// and go through the same detection service the HTTP path uses.
func (a *App) Consume(ctx context.Context) error {
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

	consumer, err := ingest.NewConsumer(a.Config.Kafka, func(handleCtx context.Context, reading detector.Reading) error {
		svc.HandleReading(handleCtx, reading)
		return nil
	}, a.Logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	a.Logger.Info().
		Strs("brokers", a.Config.Kafka.Brokers).
		Str("topic", a.Config.Kafka.Topic).
		Msg("starting live-feed consumer")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.Run(groupCtx)
	})
	group.Go(func() error {
		return a.runMaintenance(groupCtx, svc)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("consumer terminated with error")
		return err
	}

	a.Logger.Info().Msg("live-feed consumer stopped")
	return nil
}
