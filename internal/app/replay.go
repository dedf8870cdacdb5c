package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"power-env-alerts/internal/baseline"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/ingest"
	"power-env-alerts/internal/service"
	"power-env-alerts/internal/storage"
)

// Replay 按时间顺序回放一个记录文件，复用在线检测的完整链路。
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	readings, skipped, err := ingest.LoadReadings(opts.Input)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return errors.New("回放文件没有可用读数，请检查 --input")
	}
	if skipped > 0 {
		a.Logger.Warn().Int("rows", skipped).Msg("部分行无法解析，已跳过")
	}

	if opts.Weather != "" {
		weather, err := ingest.LoadWeather(opts.Weather)
		if err != nil {
			return err
		}
		matched := ingest.JoinWeather(readings, weather, a.Config.Replay.WeatherTolerance)
		a.Logger.Info().
			Int("points", len(weather)).
			Int("matched", matched).
			Dur("tolerance", a.Config.Replay.WeatherTolerance).
			Msg("weather observations merged")
	}

	var store *storage.Store
	if opts.Persist {
		var closeStore func()
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法持久化回放结果")
		}
		defer closeStore()
	}

	// The engine warm-starts from the existing snapshot either way; the
	// snapshot is only written back with --update-baseline.
	var saver baseline.Store
	if opts.UpdateBaseline {
		saver = a.newBaselineStore()
	}
	engine, err := service.BuildEngine(a.Config, a.newBaselineStore(), a.Logger)
	if err != nil {
		return err
	}

	deps := service.Deps{Baseline: saver}
	if store != nil {
		deps.Readings = store
		deps.Events = store
	}
	svc := service.New(a.Config, engine, deps, a.Logger)

	processed := 0
	rejected := 0
	opened := 0
	finalized := make([]detector.Event, 0, 16)
	for _, reading := range readings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res := svc.HandleReading(ctx, reading)
		if res.Outcome == detector.OutcomeOutOfOrder {
			rejected++
			continue
		}
		processed++

		for _, change := range res.Changes {
			switch change.Kind {
			case detector.ChangeOpened:
				opened++
				if change.Event.End != nil {
					// Single-instant spike events close as they open.
					finalized = append(finalized, change.Event)
				}
			case detector.ChangeClosed:
				finalized = append(finalized, change.Event)
			}
		}
	}

	stillOpen := openEvents(svc.Status(ctx).Engine)

	a.Logger.Info().
		Int("processed", processed).
		Int("rejected", rejected).
		Int("events_opened", opened).
		Int("events_closed", len(finalized)).
		Int("events_open", len(stillOpen)).
		Msg("回放完成")

	if opts.EventsOut != "" {
		all := append(finalized, stillOpen...)
		if err := writeEventsCSV(opts.EventsOut, all); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.EventsOut).Int("events", len(all)).Msg("events written")
	}

	if opts.UpdateBaseline {
		if err := svc.SaveBaseline(); err != nil {
			return err
		}
	}
	return nil
}

// openEvents pulls the episodes still open at end of replay out of the
// engine status, ordered by rule for stable output.
func openEvents(stats detector.Stats) []detector.Event {
	var out []detector.Event
	for _, rule := range detector.Rules() {
		rs, ok := stats.Rules[rule]
		if !ok || rs.Open == nil || !rs.Open.Open() {
			continue
		}
		out = append(out, *rs.Open)
	}
	return out
}

func writeEventsCSV(path string, events []detector.Event) error {
	out, err := createMaybeGzip(path)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	defer writer.Flush()

	header := []string{"event_id", "rule", "severity", "start_ts", "end_ts", "info"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		end := ""
		if ev.End != nil {
			end = ev.End.UTC().Format(time.RFC3339)
		}
		info, err := json.Marshal(ev.Info)
		if err != nil {
			return fmt.Errorf("encode event info: %w", err)
		}
		record := []string{
			ev.ID,
			string(ev.Rule),
			ev.Severity.String(),
			ev.Start.UTC().Format(time.RFC3339),
			end,
			string(info),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}
