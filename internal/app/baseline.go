package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"power-env-alerts/internal/baseline"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/ingest"
)

// TrainBaseline builds a fresh baseline snapshot from a historical CSV and
// writes it to disk, replacing whatever snapshot was there before.
func (a *App) TrainBaseline(ctx context.Context, opts TrainOptions) error {
	readings, skipped, err := ingest.LoadReadings(opts.Input)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return errors.New("训练文件没有可用读数，请检查 --input")
	}
	if skipped > 0 {
		a.Logger.Warn().Int("rows", skipped).Msg("部分行无法解析，已跳过")
	}

	// Training always starts cold so the snapshot reflects only this file.
	engine, err := detector.New(a.Config.Detector)
	if err != nil {
		return err
	}

	for _, reading := range readings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		engine.Process(reading)
	}

	out := opts.Output
	if out == "" {
		out = a.Config.Baseline.Path
	}
	store := baseline.NewFileStore(out)
	snap := engine.Snapshot()
	if err := store.Save(snap); err != nil {
		return err
	}

	a.Logger.Info().
		Str("path", out).
		Int("readings", len(readings)).
		Int("channels", len(snap.Channels)).
		Msg("基线训练完成")
	return nil
}

// ShowBaseline prints the snapshot stored at path (config default when empty).
func (a *App) ShowBaseline(path string) error {
	if path == "" {
		path = a.Config.Baseline.Path
	}

	snap, err := baseline.NewFileStore(path).Load()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Path:        %s\n", path)
	fmt.Fprintf(os.Stdout, "Saved at:    %s\n", snap.SavedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "Fingerprint: %s\n\n", snap.ConfigFingerprint)

	channels := make([]detector.Channel, 0, len(snap.Channels))
	for ch := range snap.Channels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Channel\tMean\tStdev\tSamples\tWarm")
	for _, ch := range channels {
		state := snap.Channels[ch]
		est := detector.NewEstimator(snap.Config.SmoothingAlpha(), snap.Config.WarmupMinSamples)
		if err := est.Restore(state); err != nil {
			return fmt.Errorf("channel %s: %w", ch, err)
		}
		fmt.Fprintf(
			writer,
			"%s\t%.3f\t%.3f\t%d\t%t\n",
			ch,
			est.Mean(),
			est.Stdev(),
			est.Samples(),
			est.Warm(),
		)
	}
	return writer.Flush()
}
