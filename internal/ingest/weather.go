package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"power-env-alerts/internal/detector"
)

// WeatherPoint is one outdoor temperature observation.
type WeatherPoint struct {
	TS          time.Time
	OutdoorTemp float64
}

// LoadWeather parses an outdoor temperature CSV sorted by timestamp.
// Duplicate timestamps keep the first occurrence.
func LoadWeather(path string) ([]WeatherPoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weather csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read weather header: %w", err)
	}

	tsIdx := -1
	tempIdx := -1
	for i, name := range header {
		cleaned := strings.TrimPrefix(strings.TrimSpace(name), "\uFEFF")
		if tsIdx < 0 && detector.IsTimestampKey(cleaned) {
			tsIdx = i
			continue
		}
		if ch, ok := detector.ResolveChannel(cleaned); ok && ch == detector.ChannelOutdoorTemp && tempIdx < 0 {
			tempIdx = i
		}
	}
	if tsIdx < 0 {
		return nil, fmt.Errorf("weather csv must contain a timestamp column")
	}
	if tempIdx < 0 {
		return nil, fmt.Errorf("weather csv must contain an outdoor temperature column (outside_temp_c/outdoor_temp_c/temp_out_c)")
	}

	points := make([]WeatherPoint, 0, 256)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		ts, err := ParseTimestamp(cell(row, tsIdx))
		if err != nil {
			continue
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(cell(row, tempIdx)), 64)
		if err != nil {
			continue
		}
		points = append(points, WeatherPoint{TS: ts, OutdoorTemp: temp})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TS.Before(points[j].TS)
	})

	deduped := points[:0]
	var last time.Time
	for i, p := range points {
		if i > 0 && p.TS.Equal(last) {
			continue
		}
		deduped = append(deduped, p)
		last = p.TS
	}
	return deduped, nil
}

// JoinWeather annotates readings lacking an outdoor temperature with the
// nearest weather observation within tolerance. Readings already
// carrying the channel are left alone. Returns the number matched.
func JoinWeather(readings []detector.Reading, weather []WeatherPoint, tolerance time.Duration) int {
	if len(weather) == 0 || tolerance <= 0 {
		return 0
	}

	matched := 0
	for i := range readings {
		if readings[i].Has(detector.ChannelOutdoorTemp) {
			continue
		}
		point, ok := nearestWeather(weather, readings[i].Timestamp, tolerance)
		if !ok {
			continue
		}
		if readings[i].Values == nil {
			readings[i].Values = make(map[detector.Channel]float64)
		}
		readings[i].Values[detector.ChannelOutdoorTemp] = point.OutdoorTemp
		matched++
	}
	return matched
}

// nearestWeather binary-searches the sorted observations for the closest
// timestamp within tolerance.
func nearestWeather(weather []WeatherPoint, ts time.Time, tolerance time.Duration) (WeatherPoint, bool) {
	idx := sort.Search(len(weather), func(i int) bool {
		return !weather[i].TS.Before(ts)
	})

	best := -1
	var bestGap time.Duration
	for _, cand := range []int{idx - 1, idx} {
		if cand < 0 || cand >= len(weather) {
			continue
		}
		gap := ts.Sub(weather[cand].TS)
		if gap < 0 {
			gap = -gap
		}
		if best < 0 || gap < bestGap {
			best = cand
			bestGap = gap
		}
	}
	if best < 0 || bestGap > tolerance {
		return WeatherPoint{}, false
	}
	return weather[best], true
}
