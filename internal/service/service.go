package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"power-env-alerts/internal/alerting"
	"power-env-alerts/internal/baseline"
	"power-env-alerts/internal/config"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/logging"
	"power-env-alerts/internal/metrics"
	"power-env-alerts/internal/storage"
	"power-env-alerts/internal/ws"
)

// debugSampleN keeps one in N per-reading debug lines.
const debugSampleN = 50

// Deps carries the optional collaborators of the service. Nil stores
// and notifier degrade to in-memory operation.
type Deps struct {
	Readings storage.ReadingStore
	Events   storage.EventStore
	Alerts   storage.AlertStore
	Notifier alerting.Notifier
	Baseline baseline.Store
	Metrics  *metrics.Metrics
	Hub      *ws.Hub
}

// Service orchestrates detection, persistence, alerting, and the live
// feed. It owns the engine lock: all reading sources funnel through
// HandleReading so the engine sees a single serialised stream.
type Service struct {
	cfg      *config.Config
	engine   *detector.Engine
	readings storage.ReadingStore
	events   storage.EventStore
	alerts   storage.AlertStore
	notifier alerting.Notifier
	baseline baseline.Store
	metrics  *metrics.Metrics
	hub      *ws.Hub
	logger   zerolog.Logger
	debugLog zerolog.Logger

	alertsOn     bool
	minSeverity  detector.Severity
	channels     []string
	channelLabel string
	notifyWait   time.Duration
	record       bool

	mu sync.Mutex
}

// New constructs the monitoring service around an engine.
func New(cfg *config.Config, engine *detector.Engine, deps Deps, logger zerolog.Logger) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	hub := deps.Hub
	if hub == nil {
		hub = ws.NewHub()
	}

	channelLabel := "log"
	if len(cfg.Alerting.Channels) > 0 {
		channelLabel = cfg.Alerting.Channels[0]
	}

	svcLogger := logger.With().Str("component", "service").Logger()

	return &Service{
		cfg:          cfg,
		engine:       engine,
		readings:     deps.Readings,
		events:       deps.Events,
		alerts:       deps.Alerts,
		notifier:     deps.Notifier,
		baseline:     deps.Baseline,
		metrics:      m,
		hub:          hub,
		logger:       svcLogger,
		debugLog:     logging.Sampled(svcLogger, debugSampleN),
		alertsOn:     cfg.Alerting.Enabled,
		minSeverity:  cfg.MinSeverity(),
		channels:     cfg.Alerting.Channels,
		channelLabel: channelLabel,
		notifyWait:   cfg.Alerting.Timeout,
		record:       cfg.Database.RecordReadings,
	}
}

// Hub exposes the live-feed hub for transport handlers.
func (s *Service) Hub() *ws.Hub { return s.hub }

// Metrics exposes the collector set for transport handlers.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// HandleReading 处理一条读数：推进引擎、落库、告警、广播。
func (s *Service) HandleReading(ctx context.Context, reading detector.Reading) detector.Result {
	start := time.Now()

	s.mu.Lock()
	result := s.engine.Process(reading)
	s.mu.Unlock()

	s.metrics.ReadingsTotal.WithLabelValues(result.Outcome.String()).Inc()
	s.metrics.ProcessSeconds.Observe(time.Since(start).Seconds())

	if result.Outcome == detector.OutcomeOutOfOrder {
		s.logger.Warn().Time("ts", reading.Timestamp).Msg("rejected out-of-order reading")
		return result
	}

	if result.Anomalous {
		s.metrics.AnomalousTicks.Inc()
	}

	s.persistReading(ctx, reading)
	for _, change := range result.Changes {
		s.recordChange(ctx, change)
	}
	s.updateOpenEventGauges(result.Stats)
	s.broadcast(result)

	s.debugLog.Debug().
		Time("ts", result.Timestamp).
		Int("changes", len(result.Changes)).
		Bool("anomalous", result.Anomalous).
		Msg("reading processed")
	return result
}

func (s *Service) persistReading(ctx context.Context, reading detector.Reading) {
	if !s.record || s.readings == nil {
		return
	}
	if err := s.readings.UpsertReading(ctx, readingRecord(reading)); err != nil {
		s.logger.Error().Err(err).Time("ts", reading.Timestamp).Msg("failed to upsert reading")
	}
}

func (s *Service) recordChange(ctx context.Context, change detector.EventChange) {
	rule := string(change.Event.Rule)
	action := change.Kind.String()
	s.metrics.EventChangesTotal.WithLabelValues(rule, action).Inc()

	s.logger.Info().
		Str("rule", rule).
		Str("action", action).
		Str("severity", change.Event.Severity.String()).
		Str("event_id", change.Event.ID).
		Time("start", change.Event.Start).
		Msg("anomaly event change")

	if s.events != nil {
		record, err := eventRecord(change.Event)
		if err != nil {
			s.logger.Error().Err(err).Str("event_id", change.Event.ID).Msg("failed to encode event record")
		} else if err := s.events.UpsertEvent(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("event_id", change.Event.ID).Msg("failed to upsert event")
		}
	}

	s.dispatchAlert(ctx, change)
}

func (s *Service) dispatchAlert(ctx context.Context, change detector.EventChange) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	if change.Event.Severity < s.minSeverity {
		return
	}

	note := alerting.Notification{
		Event:    change.Event,
		Action:   change.Kind,
		Channels: s.channels,
	}

	if s.alerts != nil {
		record := storage.AlertRecord{
			EventID:  change.Event.ID,
			Rule:     string(change.Event.Rule),
			Severity: change.Event.Severity.String(),
			Action:   change.Kind.String(),
			Channels: s.channels,
			Message:  alerting.RenderMessage(note),
		}
		if _, err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("event_id", change.Event.ID).Msg("failed to persist alert record")
		}
	}

	dispatchCtx := ctx
	if s.notifyWait > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.notifyWait)
		defer cancel()
	}

	if err := s.notifier.Notify(dispatchCtx, note); err != nil {
		s.metrics.NotificationsTotal.WithLabelValues(s.channelLabel, "error").Inc()
		s.logger.Error().Err(err).Str("event_id", change.Event.ID).Msg("failed to dispatch alert")
		return
	}
	s.metrics.NotificationsTotal.WithLabelValues(s.channelLabel, "ok").Inc()
}

func (s *Service) updateOpenEventGauges(stats detector.Stats) {
	for rule, rs := range stats.Rules {
		open := 0.0
		if rs.Open != nil {
			open = 1
		}
		s.metrics.OpenEvents.WithLabelValues(string(rule)).Set(open)
	}
}

// liveTick is the envelope broadcast to live-feed subscribers for each
// processed reading.
type liveTick struct {
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Anomalous  bool                   `json:"anomalous"`
	OpenEvents int                    `json:"open_events"`
	Changes    []detector.EventChange `json:"changes,omitempty"`
}

func (s *Service) broadcast(result detector.Result) {
	if s.hub == nil || s.hub.Count() == 0 {
		return
	}

	payload, err := json.Marshal(liveTick{
		Type:       "tick",
		Timestamp:  result.Timestamp,
		Anomalous:  result.Anomalous,
		OpenEvents: result.Stats.OpenEvents,
		Changes:    result.Changes,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode live tick")
		return
	}
	s.hub.Broadcast(payload)
	s.metrics.WSClients.Set(float64(s.hub.Count()))
}

func readingRecord(reading detector.Reading) storage.ReadingRecord {
	rec := storage.ReadingRecord{TS: reading.Timestamp}
	for ch, value := range reading.Values {
		d := decimal.NewFromFloat(value)
		switch ch {
		case detector.ChannelPower:
			rec.Power = &d
		case detector.ChannelIndoorTemp:
			rec.IndoorTemp = &d
		case detector.ChannelOutdoorTemp:
			rec.OutdoorTemp = &d
		case detector.ChannelHumidity:
			rec.Humidity = &d
		case detector.ChannelIlluminance:
			rec.Illuminance = &d
		}
	}
	return rec
}

func eventRecord(event detector.Event) (storage.EventRecord, error) {
	info, err := json.Marshal(event.Info)
	if err != nil {
		return storage.EventRecord{}, err
	}

	record := storage.EventRecord{
		ID:       event.ID,
		Rule:     string(event.Rule),
		Severity: event.Severity.String(),
		StartTS:  event.Start,
		Status:   storage.EventStatusOpen,
		Info:     info,
	}
	if event.End != nil {
		end := *event.End
		record.EndTS = &end
		record.Status = storage.EventStatusClosed
	}
	return record, nil
}
