// Package ingest turns external sensor payloads into engine readings.
// Sources share one decoding path: JSON bodies from the HTTP API and
// Kafka, and CSV rows from replay and training.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"power-env-alerts/internal/detector"
)

// timestamp layouts accepted beyond RFC3339. Naive layouts parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DecodeReading converts a decoded JSON object into a Reading. Field
// names are matched case-insensitively against the channel aliases; a
// missing timestamp defaults to the current time, so live feeds can
// post bare measurements.
func DecodeReading(payload map[string]any, now func() time.Time) (detector.Reading, error) {
	if now == nil {
		now = time.Now
	}

	reading := detector.Reading{Values: make(map[detector.Channel]float64)}

	var tsRaw any
	for key, value := range payload {
		if detector.IsTimestampKey(key) {
			tsRaw = value
			continue
		}
		ch, ok := detector.ResolveChannel(key)
		if !ok {
			continue
		}
		num, err := coerceFloat(value)
		if err != nil {
			return detector.Reading{}, fmt.Errorf("field %s: %w", key, err)
		}
		reading.Values[ch] = num
	}

	if len(reading.Values) == 0 {
		return detector.Reading{}, fmt.Errorf("payload carries no recognised sensor fields")
	}

	if tsRaw == nil {
		reading.Timestamp = now().UTC()
		return reading, nil
	}

	ts, err := coerceTimestamp(tsRaw)
	if err != nil {
		return detector.Reading{}, err
	}
	reading.Timestamp = ts
	return reading, nil
}

// ParseTimestamp parses the timestamp spellings seen in sensor exports:
// RFC3339 variants, naive date-times, and Unix seconds.
func ParseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return unixSeconds(secs)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", trimmed)
}

func coerceTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		return ParseTimestamp(v)
	case float64:
		return unixSeconds(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case json.Number:
		return ParseTimestamp(v.String())
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func unixSeconds(secs float64) (time.Time, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("non-finite unix timestamp")
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty numeric value")
		}
		return strconv.ParseFloat(trimmed, 64)
	case nil:
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}
