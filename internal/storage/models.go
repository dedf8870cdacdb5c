package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event status values.
const (
	EventStatusOpen   = "open"
	EventStatusClosed = "closed"
)

// ReadingRecord represents a persisted sensor observation. Channels the
// reading did not carry stay nil and map to SQL NULL.
type ReadingRecord struct {
	TS          time.Time
	Power       *decimal.Decimal
	IndoorTemp  *decimal.Decimal
	OutdoorTemp *decimal.Decimal
	Humidity    *decimal.Decimal
	Illuminance *decimal.Decimal
	CreatedAt   time.Time
}

// EventRecord captures one anomaly episode row, upserted by event ID as
// the episode opens, extends, and closes.
type EventRecord struct {
	ID        string
	Rule      string
	Severity  string
	StartTS   time.Time
	EndTS     *time.Time
	Status    string
	Info      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AlertRecord captures a dispatched notification for auditing.
type AlertRecord struct {
	ID        int64
	EventID   string
	Rule      string
	Severity  string
	Action    string
	Channels  []string
	Message   string
	CreatedAt time.Time
}
