package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"power-env-alerts/internal/storage"
)

// Show prints recent events, or recent readings with --readings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法查询历史数据")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Readings {
		return showReadings(ctx, store, opts.Limit)
	}
	return showEvents(ctx, store, opts)
}

func showEvents(ctx context.Context, store *storage.Store, opts ShowOptions) error {
	var (
		events []storage.EventRecord
		err    error
	)
	if opts.OpenOnly {
		events, err = store.ListOpenEvents(ctx)
	} else {
		events, err = store.ListRecentEvents(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Start (UTC)\tEnd (UTC)\tRule\tSeverity\tStatus\tID")

	for _, ev := range events {
		end := "-"
		if ev.EndTS != nil {
			end = ev.EndTS.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.StartTS.UTC().Format(time.RFC3339),
			end,
			ev.Rule,
			ev.Severity,
			ev.Status,
			sanitizeInline(ev.ID),
		)
	}

	return writer.Flush()
}

func showReadings(ctx context.Context, store *storage.Store, limit int) error {
	readings, err := store.ListRecentReadings(ctx, limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPower W\tIndoor C\tOutdoor C\tHumidity %\tLux")

	for _, rec := range readings {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.TS.UTC().Format(time.RFC3339),
			formatNullDecimal(rec.Power, 1),
			formatNullDecimal(rec.IndoorTemp, 1),
			formatNullDecimal(rec.OutdoorTemp, 1),
			formatNullDecimal(rec.Humidity, 1),
			formatNullDecimal(rec.Illuminance, 1),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
