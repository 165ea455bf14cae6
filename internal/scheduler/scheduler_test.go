package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsAndSurvivesTickErrors(t *testing.T) {
	s := New(Options{Interval: 15 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var ticks int32
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		atomic.AddInt32(&ticks, 1)
		return errors.New("upstream down")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Fatalf("failing ticks must not stop the loop, saw %d", ticks)
	}
}

func TestSchedulerStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestSchedulerAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 10, 1, 12, 3, 10, 0, time.UTC)

	if got := s.nextTick(now); !got.Equal(time.Date(2026, 10, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	onBoundary := time.Date(2026, 10, 1, 12, 5, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(5 * time.Minute)) {
		t.Fatalf("boundary should advance a full interval, got %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket %s", got)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval should panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestCronSchedule(t *testing.T) {
	if _, err := NewCron("not a cron", zerolog.Nop()); err == nil {
		t.Fatal("invalid expression should be rejected")
	}

	c, err := NewCron("*/5 * * * *", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 10, 1, 12, 3, 10, 0, time.UTC)
	if got := c.Next(from); !got.Equal(time.Date(2026, 10, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next activation %s", got)
	}
}

func TestCronRunStopsOnCancel(t *testing.T) {
	c, err := NewCron("@hourly", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
