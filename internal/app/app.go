package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"power-env-alerts/internal/alerting"
	"power-env-alerts/internal/baseline"
	"power-env-alerts/internal/config"
	"power-env-alerts/internal/scheduler"
	"power-env-alerts/internal/service"
	"power-env-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newNotifier resolves the alert channel. Disabled alerting yields nil;
// enabled alerting without Telegram falls back to the structured-log
// channel. Every channel sits behind a circuit breaker so a dead
// endpoint cannot stall reading ingestion.
func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var delegate alerting.Notifier
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		delegate = alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	} else {
		delegate = alerting.NewLogNotifier(a.Logger)
	}
	return alerting.NewBreakerNotifier(delegate, a.Logger)
}

func (a *App) newBaselineStore() baseline.Store {
	return baseline.NewFileStore(a.Config.Baseline.Path)
}

func (a *App) newScheduler(name string, interval time.Duration) *scheduler.Runner {
	return scheduler.New(scheduler.Options{Name: name, Interval: interval}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// buildService assembles the engine and monitoring service. The engine
// warm-starts from the baseline store when it holds a usable snapshot; a
// corrupt snapshot aborts startup here.
func (a *App) buildService(store *storage.Store, bstore baseline.Store, notifier alerting.Notifier) (*service.Service, error) {
	engine, err := service.BuildEngine(a.Config, bstore, a.Logger)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Notifier: notifier,
		Baseline: bstore,
	}
	if store != nil {
		deps.Readings = store
		deps.Events = store
		deps.Alerts = store
	}
	return service.New(a.Config, engine, deps, a.Logger), nil
}

// ReplayOptions configure a recorded-file replay run.
type ReplayOptions struct {
	Input          string
	Weather        string
	EventsOut      string
	Persist        bool
	UpdateBaseline bool
}

// TrainOptions configure baseline training.
type TrainOptions struct {
	Input  string
	Output string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Readings bool
	OpenOnly bool
}

// ExportOptions hold parameters for exporting stored readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
