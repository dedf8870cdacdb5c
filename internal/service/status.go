package service

import (
	"context"

	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/storage"
	"power-env-alerts/internal/version"
)

// StorageCounts summarises what the database currently holds.
type StorageCounts struct {
	Readings int64 `json:"readings"`
	Events   int64 `json:"events"`
}

// StatusReport is the full health view served by the status endpoint.
type StatusReport struct {
	App         string         `json:"app"`
	Version     string         `json:"version"`
	Engine      detector.Stats `json:"engine"`
	Baseline    string         `json:"baseline_path,omitempty"`
	Storage     *StorageCounts `json:"storage,omitempty"`
	LiveClients int            `json:"live_clients"`
}

// Status 汇总引擎与存储的当前状态。
func (s *Service) Status(ctx context.Context) StatusReport {
	s.mu.Lock()
	stats := s.engine.Status()
	s.mu.Unlock()

	report := StatusReport{
		App:         s.cfg.App.Name,
		Version:     version.Version,
		Engine:      stats,
		Baseline:    s.cfg.Baseline.Path,
		LiveClients: s.hub.Count(),
	}

	if s.readings != nil && s.events != nil {
		counts := &StorageCounts{}
		var err error
		if counts.Readings, err = s.readings.CountReadings(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to count readings")
			return report
		}
		if counts.Events, err = s.events.CountEvents(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to count events")
			return report
		}
		report.Storage = counts
	}
	return report
}

// RecentEvents returns stored events, newest first. openOnly narrows the
// listing to episodes that have not closed yet.
func (s *Service) RecentEvents(ctx context.Context, limit int, openOnly bool) ([]storage.EventRecord, error) {
	if s.events == nil {
		return nil, storage.ErrNotConfigured
	}
	if openOnly {
		return s.events.ListOpenEvents(ctx)
	}
	return s.events.ListRecentEvents(ctx, normalizeLimit(limit))
}

// RecentAlerts returns the alert audit trail, newest first.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	if s.alerts == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.alerts.ListRecentAlerts(ctx, normalizeLimit(limit))
}

// RecentReadings returns stored readings, newest first.
func (s *Service) RecentReadings(ctx context.Context, limit int) ([]storage.ReadingRecord, error) {
	if s.readings == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.readings.ListRecentReadings(ctx, normalizeLimit(limit))
}

// SaveBaseline snapshots the engine and persists it. A nil baseline
// store turns this into a no-op so replay-only setups keep working.
func (s *Service) SaveBaseline() error {
	if s.baseline == nil {
		return nil
	}

	s.mu.Lock()
	snap := s.engine.Snapshot()
	s.mu.Unlock()

	if err := s.baseline.Save(snap); err != nil {
		return err
	}
	s.logger.Info().
		Str("path", s.cfg.Baseline.Path).
		Time("saved_at", snap.SavedAt).
		Msg("baseline snapshot saved")
	return nil
}

// Reset clears event machines and counters. estimators additionally
// discards the learned baselines.
func (s *Service) Reset(estimators bool) {
	s.mu.Lock()
	s.engine.Reset(estimators)
	stats := s.engine.Status()
	s.mu.Unlock()

	s.updateOpenEventGauges(stats)
	s.logger.Warn().Bool("estimators", estimators).Msg("engine reset")
}

// Close saves the final baseline and disconnects live subscribers.
func (s *Service) Close() error {
	err := s.SaveBaseline()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save baseline on shutdown")
	}
	s.hub.Close()
	return err
}

// normalizeLimit keeps list queries bounded.
func normalizeLimit(limit int) int {
	const (
		defaultLimit = 50
		maxLimit     = 1000
	)
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
