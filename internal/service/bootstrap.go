package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"power-env-alerts/internal/baseline"
	"power-env-alerts/internal/config"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/storage"
)

// BuildEngine constructs the detection engine, warm-starting it from the
// baseline snapshot when one exists and matches the configured thresholds.
func BuildEngine(cfg *config.Config, store baseline.Store, logger zerolog.Logger) (*detector.Engine, error) {
	engine, err := detector.New(cfg.Detector)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return engine, nil
	}

	snap, err := store.Load()
	switch {
	case errors.Is(err, baseline.ErrNotFound):
		logger.Warn().Str("path", cfg.Baseline.Path).Msg("没有基线快照，冷启动")
		return engine, nil
	case err != nil:
		return nil, fmt.Errorf("load baseline: %w", err)
	}

	if err := engine.Restore(snap); err != nil {
		if errors.Is(err, detector.ErrConfigMismatch) {
			logger.Warn().
				Str("path", cfg.Baseline.Path).
				Time("saved_at", snap.SavedAt).
				Msg("基线快照与当前配置不匹配，冷启动")
			return engine, nil
		}
		return nil, fmt.Errorf("restore baseline: %w", err)
	}

	logger.Info().
		Str("path", cfg.Baseline.Path).
		Time("saved_at", snap.SavedAt).
		Int("channels", len(snap.Channels)).
		Msg("baseline snapshot restored")
	return engine, nil
}

// AcquireLock takes the advisory lock that guards a live detection loop,
// so two homewatcher processes never feed the same stream twice.
func AcquireLock(ctx context.Context, locker storage.AdvisoryLocker, key int64, logger zerolog.Logger) (func(), error) {
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("advisory lock %d is held by another process", key)
	}
	logger.Info().Int64("key", key).Msg("advisory lock acquired")
	return unlock, nil
}
