package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"power-env-alerts/internal/config"
	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/ingest"
	"power-env-alerts/internal/service"
	"power-env-alerts/internal/storage"
	"power-env-alerts/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Server wires the ingest/status endpoints and the live feed to the
// monitoring service.
type Server struct {
	cfg      config.HTTPConfig
	svc      *service.Service
	dbHealth func(context.Context) error
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	srv      *http.Server
}

// NewServer assembles the router with its dependencies. dbHealth may be
// nil when the process runs without PostgreSQL.
func NewServer(cfg *config.Config, svc *service.Service, dbHealth func(context.Context) error, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg.HTTP,
		svc:      svc,
		dbHealth: dbHealth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
	s.srv = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.svc.Metrics().Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/readings", s.handlePostReading)
		r.Get("/readings", s.handleListReadings)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleListEvents)
		r.Get("/alerts", s.handleListAlerts)
		r.Post("/reset", s.handleReset)
		r.Get("/live", s.handleLive)
	})
	return r
}

// Handler exposes the assembled routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// readingResponse is the POST /readings reply envelope.
type readingResponse struct {
	Outcome    string                 `json:"outcome"`
	Timestamp  time.Time              `json:"timestamp"`
	Anomalous  bool                   `json:"anomalous"`
	OpenEvents int                    `json:"open_events"`
	Changes    []detector.EventChange `json:"changes,omitempty"`
}

func (s *Server) handlePostReading(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reading, err := ingest.DecodeReading(payload, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.svc.HandleReading(r.Context(), reading)
	writeJSON(w, http.StatusOK, readingResponse{
		Outcome:    result.Outcome.String(),
		Timestamp:  result.Timestamp,
		Anomalous:  result.Anomalous,
		OpenEvents: result.Stats.OpenEvents,
		Changes:    result.Changes,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	openOnly, _ := strconv.ParseBool(r.URL.Query().Get("open"))
	records, err := s.svc.RecentEvents(r.Context(), queryLimit(r), openOnly)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []storage.EventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.RecentAlerts(r.Context(), queryLimit(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []storage.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.RecentReadings(r.Context(), queryLimit(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []storage.ReadingRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Estimators bool `json:"estimators"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.svc.Reset(payload.Estimators)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reset",
		"estimators": payload.Estimators,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if s.dbHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, s.logger)
	hub := s.svc.Hub()
	hub.Register(client)
	s.svc.Metrics().WSClients.Set(float64(hub.Count()))
	s.logger.Info().Str("remote", r.RemoteAddr).Int("clients", hub.Count()).Msg("live subscriber connected")

	go func() {
		defer func() {
			hub.Unregister(client)
			client.Close()
			s.svc.Metrics().WSClients.Set(float64(hub.Count()))
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("live subscriber disconnected")
		}()
		// Subscribers only listen; the read loop just detects disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
