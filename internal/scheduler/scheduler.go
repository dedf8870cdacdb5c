package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one maintenance pass. The passed time is when the tick
// fired, not when the work finished.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune runner behaviour.
type Options struct {
	// Name labels the job in logs.
	Name string
	// Interval between passes.
	Interval time.Duration
	// RunAtStart fires one pass immediately instead of waiting a full
	// interval first.
	RunAtStart bool
}

// Runner drives a periodic job until its context is cancelled. Tick
// errors are logged and the cadence keeps going; only cancellation
// stops the loop.
type Runner struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Runner instance.
func New(opts Options, logger zerolog.Logger) *Runner {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "job"
	}
	return &Runner{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
	}
}

// Run blocks, invoking the tick function every interval until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context, tick TickFunc) error {
	if r.opts.RunAtStart {
		r.fire(ctx, tick, time.Now().UTC())
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at := <-ticker.C:
			r.fire(ctx, tick, at.UTC())
		}
	}
}

func (r *Runner) fire(ctx context.Context, tick TickFunc, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	if err := tick(ctx, at); err != nil {
		r.logger.Error().Err(err).Time("at", at).Msg("scheduled pass failed")
		return
	}
	r.logger.Debug().Time("at", at).Msg("scheduled pass done")
}
