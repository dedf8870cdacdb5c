package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertReadingSQL = `INSERT INTO readings (
        ts,
        power_w,
        indoor_c,
        outdoor_c,
        humidity_pct,
        illuminance_lux
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (ts) DO UPDATE
    SET
        power_w         = EXCLUDED.power_w,
        indoor_c        = EXCLUDED.indoor_c,
        outdoor_c       = EXCLUDED.outdoor_c,
        humidity_pct    = EXCLUDED.humidity_pct,
        illuminance_lux = EXCLUDED.illuminance_lux;`

	listReadingsBetweenSQL = `SELECT
        ts,
        power_w,
        indoor_c,
        outdoor_c,
        humidity_pct,
        illuminance_lux,
        created_at
    FROM readings
    WHERE ts >= $1
      AND ts < $2
    ORDER BY ts;`

	listRecentReadingsSQL = `SELECT
        ts,
        power_w,
        indoor_c,
        outdoor_c,
        humidity_pct,
        illuminance_lux,
        created_at
    FROM readings
    ORDER BY ts DESC
    LIMIT $1;`

	countReadingsSQL = `SELECT COUNT(*) FROM readings;`

	deleteReadingsBeforeSQL = `DELETE FROM readings WHERE ts < $1;`

	upsertEventSQL = `INSERT INTO events (
        id,
        rule,
        severity,
        start_ts,
        end_ts,
        status,
        info
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (id) DO UPDATE
    SET
        severity   = EXCLUDED.severity,
        end_ts     = EXCLUDED.end_ts,
        status     = EXCLUDED.status,
        info       = EXCLUDED.info,
        updated_at = now();`

	listOpenEventsSQL = `SELECT
        id, rule, severity, start_ts, end_ts, status, info, created_at, updated_at
    FROM events
    WHERE status = 'open'
    ORDER BY start_ts;`

	listRecentEventsSQL = `SELECT
        id, rule, severity, start_ts, end_ts, status, info, created_at, updated_at
    FROM events
    ORDER BY start_ts DESC
    LIMIT $1;`

	listEventsBetweenSQL = `SELECT
        id, rule, severity, start_ts, end_ts, status, info, created_at, updated_at
    FROM events
    WHERE start_ts >= $1
      AND start_ts < $2
    ORDER BY start_ts;`

	countEventsSQL = `SELECT COUNT(*) FROM events;`

	insertAlertSQL = `INSERT INTO alerts (
        event_id,
        rule,
        severity,
        action,
        channels,
        message
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, event_id, rule, severity, action, channels, message, created_at;`

	listRecentAlertsSQL = `SELECT
        id, event_id, rule, severity, action, channels, message, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore defines operations for reading persistence.
type ReadingStore interface {
	UpsertReading(ctx context.Context, rec ReadingRecord) error
	ListReadingsBetween(ctx context.Context, from, to time.Time) ([]ReadingRecord, error)
	ListRecentReadings(ctx context.Context, limit int) ([]ReadingRecord, error)
	CountReadings(ctx context.Context) (int64, error)
	DeleteReadingsBefore(ctx context.Context, olderThan time.Time) error
}

// EventStore defines operations for anomaly episode persistence.
type EventStore interface {
	UpsertEvent(ctx context.Context, rec EventRecord) error
	ListOpenEvents(ctx context.Context) ([]EventRecord, error)
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]EventRecord, error)
	CountEvents(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to readings, events, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the session lock dies with the connection anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertReading persists or updates a reading keyed by timestamp.
func (s *Store) UpsertReading(ctx context.Context, rec ReadingRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertReadingSQL,
		rec.TS,
		decimalParam(rec.Power),
		decimalParam(rec.IndoorTemp),
		decimalParam(rec.OutdoorTemp),
		decimalParam(rec.Humidity),
		decimalParam(rec.Illuminance),
	)
	if execErr != nil {
		return fmt.Errorf("upsert reading: %w", execErr)
	}
	return nil
}

// ListReadingsBetween lists readings within a time window.
func (s *Store) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]ReadingRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ReadingRecord, 0)
	for rows.Next() {
		rec, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentReadings lists the most recent readings ordered by descending timestamp.
func (s *Store) ListRecentReadings(ctx context.Context, limit int) ([]ReadingRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ReadingRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountReadings counts stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReadingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count readings: %w", scanErr)
	}
	return count, nil
}

// DeleteReadingsBefore deletes historical readings.
func (s *Store) DeleteReadingsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteReadingsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete readings before: %w", execErr)
	}
	return nil
}

// UpsertEvent persists an anomaly episode, updating the existing row
// when the same episode extends or closes.
func (s *Store) UpsertEvent(ctx context.Context, rec EventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var endTS interface{}
	if rec.EndTS != nil {
		endTS = *rec.EndTS
	}

	_, execErr := pool.Exec(ctx, upsertEventSQL,
		rec.ID,
		rec.Rule,
		rec.Severity,
		rec.StartTS,
		endTS,
		rec.Status,
		[]byte(rec.Info),
	)
	if execErr != nil {
		return fmt.Errorf("upsert event: %w", execErr)
	}
	return nil
}

// ListOpenEvents lists episodes not yet closed.
func (s *Store) ListOpenEvents(ctx context.Context) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenEventsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list open events: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListRecentEvents lists most recent episodes ordered by descending start.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsBetween lists episodes whose start falls within a time window.
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountEvents counts stored episodes.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEventsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count events: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists a notification emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.EventID,
		alert.Rule,
		alert.Severity,
		alert.Action,
		alert.Channels,
		alert.Message,
	)

	var rec AlertRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.Rule,
		&rec.Severity,
		&rec.Action,
		&rec.Channels,
		&rec.Message,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.Rule,
			&rec.Severity,
			&rec.Action,
			&rec.Channels,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectEvents(rows pgx.Rows) ([]EventRecord, error) {
	records := make([]EventRecord, 0)
	for rows.Next() {
		var (
			rec   EventRecord
			endTS sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Rule,
			&rec.Severity,
			&rec.StartTS,
			&endTS,
			&rec.Status,
			&rec.Info,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if endTS.Valid {
			end := endTS.Time
			rec.EndTS = &end
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanReading(rows pgx.Rows) (ReadingRecord, error) {
	var (
		ts          time.Time
		power       sql.NullString
		indoor      sql.NullString
		outdoor     sql.NullString
		humidity    sql.NullString
		illuminance sql.NullString
		createdAt   time.Time
	)

	if err := rows.Scan(
		&ts,
		&power,
		&indoor,
		&outdoor,
		&humidity,
		&illuminance,
		&createdAt,
	); err != nil {
		return ReadingRecord{}, err
	}

	rec := ReadingRecord{TS: ts, CreatedAt: createdAt}

	var err error
	if rec.Power, err = parseNullDecimal(power, "power_w"); err != nil {
		return ReadingRecord{}, err
	}
	if rec.IndoorTemp, err = parseNullDecimal(indoor, "indoor_c"); err != nil {
		return ReadingRecord{}, err
	}
	if rec.OutdoorTemp, err = parseNullDecimal(outdoor, "outdoor_c"); err != nil {
		return ReadingRecord{}, err
	}
	if rec.Humidity, err = parseNullDecimal(humidity, "humidity_pct"); err != nil {
		return ReadingRecord{}, err
	}
	if rec.Illuminance, err = parseNullDecimal(illuminance, "illuminance_lux"); err != nil {
		return ReadingRecord{}, err
	}

	return rec, nil
}

func decimalParam(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(ns sql.NullString, column string) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	value, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", column, err)
	}
	return &value, nil
}
