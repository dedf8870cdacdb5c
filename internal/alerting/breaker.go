package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerNotifier shields a delegate notifier behind a circuit breaker
// so a failing alert channel cannot stall the ingest path. While the
// breaker is open, notifications are dropped with an error the caller
// can log and audit.
type BreakerNotifier struct {
	delegate Notifier
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   zerolog.Logger
}

// NewBreakerNotifier 为告警通道加上熔断保护。
func NewBreakerNotifier(delegate Notifier, logger zerolog.Logger) *BreakerNotifier {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "alert-dispatch",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &BreakerNotifier{
		delegate: delegate,
		breaker:  cb,
		logger:   logger.With().Str("component", "alert_breaker").Logger(),
	}
}

// Notify forwards to the delegate unless the breaker is open.
func (b *BreakerNotifier) Notify(ctx context.Context, note Notification) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.delegate.Notify(ctx, note)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn().
			Str("rule", string(note.Event.Rule)).
			Str("action", note.Action.String()).
			Msg("告警通道熔断中，本次通知被丢弃")
		return fmt.Errorf("alert dispatch suppressed: %w", err)
	}
	return err
}

// State exposes the current breaker state for status reporting.
func (b *BreakerNotifier) State() gobreaker.State {
	return b.breaker.State()
}

var _ Notifier = (*BreakerNotifier)(nil)
