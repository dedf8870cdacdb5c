package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunnerFiresPeriodically(t *testing.T) {
	r := New(Options{Name: "test", Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("两秒内应至少触发 3 次, 实际 %d", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled: %v", err)
	}
}

func TestRunnerRunAtStart(t *testing.T) {
	r := New(Options{Name: "test", Interval: time.Hour, RunAtStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(context.Context, time.Time) error {
			fired <- struct{}{}
			return nil
		})
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAtStart 应立即触发一次")
	}
	cancel()
	<-done
}

func TestRunnerKeepsGoingOnError(t *testing.T) {
	r := New(Options{Name: "test", Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int64
	go func() {
		_ = r.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			return errors.New("boom")
		})
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("出错后循环应继续, 实际 %d 次", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunnerRejectsBadInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正间隔应 panic")
		}
	}()
	New(Options{Interval: 0}, zerolog.Nop())
}
