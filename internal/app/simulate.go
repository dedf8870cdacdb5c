package app

import (
	"context"
	"errors"
	"time"

	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/service"
)

// SimulateAlert 注入一条超限功率读数，完整走一遍告警链路。
func (a *App) SimulateAlert(ctx context.Context, watts float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	// A single reading must be enough, so the persistence window is
	// dropped for this one-shot engine.
	cfg := *a.Config
	cfg.Detector.MinDuration = 0

	engine, err := detector.New(cfg.Detector)
	if err != nil {
		return err
	}
	svc := service.New(&cfg, engine, service.Deps{Notifier: notifier}, a.Logger)

	reading := detector.Reading{
		Timestamp: time.Now().UTC(),
		Values:    map[detector.Channel]float64{detector.ChannelPower: watts},
	}
	result := svc.HandleReading(ctx, reading)

	opened := 0
	for _, change := range result.Changes {
		if change.Kind == detector.ChangeOpened {
			opened++
		}
	}
	if opened == 0 {
		return errors.New("模拟读数没有触发任何事件，请提高 --watts")
	}

	a.Logger.Info().
		Float64("watts", watts).
		Int("events", opened).
		Msg("simulated alert dispatched")
	return nil
}
