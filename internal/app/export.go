package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/storage"
)

// exportPoint pairs a stored reading with the estimator overlay computed
// by replaying power values through a fresh EWMA.
type exportPoint struct {
	reading storage.ReadingRecord
	mean    float64
	stdev   float64
	warm    bool
}

// Export renders historical readings as CSV and/or PNG, with the power
// baseline recomputed over the window for context.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法导出")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	readings, err := store.ListReadingsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		a.Logger.Info().Msg("no readings found for export window")
		return nil
	}

	points := overlayBaseline(readings, a.Config.Detector)
	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := writeReadingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReadingsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// overlayBaseline replays the window's power values through a cold
// estimator so the chart shows what the detector would have tracked.
func overlayBaseline(readings []storage.ReadingRecord, cfg detector.Config) []exportPoint {
	est := detector.NewEstimator(cfg.SmoothingAlpha(), cfg.WarmupMinSamples)

	points := make([]exportPoint, 0, len(readings))
	for _, rec := range readings {
		pt := exportPoint{reading: rec}
		if rec.Power != nil {
			pt.mean, pt.stdev, pt.warm = est.Update(rec.Power.InexactFloat64())
		} else {
			pt.mean, pt.stdev, pt.warm = est.Mean(), est.Stdev(), est.Warm()
		}
		points = append(points, pt)
	}
	return points
}

func downsamplePoints(points []exportPoint, max int) []exportPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]exportPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeReadingsCSV(path string, points []exportPoint) error {
	out, err := createMaybeGzip(path)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	defer writer.Flush()

	header := []string{"ts", "power_w", "indoor_c", "outdoor_c", "humidity_pct", "illuminance_lux", "baseline_mean_w", "baseline_stdev_w", "warm"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, pt := range points {
		rec := pt.reading
		record := []string{
			rec.TS.UTC().Format(time.RFC3339),
			csvNullDecimal(rec.Power),
			csvNullDecimal(rec.IndoorTemp),
			csvNullDecimal(rec.OutdoorTemp),
			csvNullDecimal(rec.Humidity),
			csvNullDecimal(rec.Illuminance),
			fmt.Sprintf("%.3f", pt.mean),
			fmt.Sprintf("%.3f", pt.stdev),
			fmt.Sprintf("%t", pt.warm),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeReadingsPNG(path string, points []exportPoint) error {
	var (
		x     []time.Time
		power []float64
		mean  []float64
		stdev []float64
	)
	for _, pt := range points {
		if pt.reading.Power == nil {
			continue
		}
		x = append(x, pt.reading.TS)
		power = append(power, pt.reading.Power.InexactFloat64())
		mean = append(mean, pt.mean)
		stdev = append(stdev, pt.stdev)
	}
	if len(x) < 2 {
		return errors.New("窗口内功率数据不足，无法绘图")
	}

	wattFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Power (W)",
			ValueFormatter: wattFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Stdev (W)",
			ValueFormatter: wattFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Power",
				XValues: x,
				YValues: power,
			},
			chart.TimeSeries{
				Name:    "Baseline mean",
				XValues: x,
				YValues: mean,
			},
			chart.TimeSeries{
				Name:    "Baseline stdev",
				XValues: x,
				YValues: stdev,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func csvNullDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatNullDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
