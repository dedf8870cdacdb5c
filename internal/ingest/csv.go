package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"power-env-alerts/internal/detector"
)

// LoadReadings parses a sensor export CSV into readings sorted by
// timestamp. The header must carry a timestamp column and a power
// column; environment columns are optional. Rows whose timestamp does
// not parse are skipped and counted.
func LoadReadings(path string) ([]detector.Reading, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open readings csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}

	tsIdx, channelIdx := mapHeader(header)
	if tsIdx < 0 {
		return nil, 0, fmt.Errorf("csv must contain a timestamp column (timestamp/time/ts/datetime)")
	}
	if _, ok := indexOf(channelIdx, detector.ChannelPower); !ok {
		return nil, 0, fmt.Errorf("csv must contain a power column (power_w/power/watts/w)")
	}

	readings := make([]detector.Reading, 0, 1024)
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		ts, err := ParseTimestamp(cell(row, tsIdx))
		if err != nil {
			skipped++
			continue
		}

		reading := detector.Reading{Timestamp: ts, Values: make(map[detector.Channel]float64)}
		for idx, ch := range channelIdx {
			raw := strings.TrimSpace(cell(row, idx))
			if raw == "" {
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			reading.Values[ch] = value
		}
		readings = append(readings, reading)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings, skipped, nil
}

// mapHeader locates the timestamp column and maps every recognised
// channel column by index. The first match wins for each channel.
func mapHeader(header []string) (tsIdx int, channelIdx map[int]detector.Channel) {
	tsIdx = -1
	channelIdx = make(map[int]detector.Channel)
	seen := make(map[detector.Channel]bool)
	for i, name := range header {
		cleaned := strings.TrimPrefix(strings.TrimSpace(name), "\uFEFF")
		if tsIdx < 0 && detector.IsTimestampKey(cleaned) {
			tsIdx = i
			continue
		}
		if ch, ok := detector.ResolveChannel(cleaned); ok && !seen[ch] {
			channelIdx[i] = ch
			seen[ch] = true
		}
	}
	return tsIdx, channelIdx
}

func indexOf(channelIdx map[int]detector.Channel, want detector.Channel) (int, bool) {
	for idx, ch := range channelIdx {
		if ch == want {
			return idx, true
		}
	}
	return 0, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
