package gotimer_test

import (
	"context"
	"testing"
	"time"

	"github.com/ghettovoice/gotimer"
)

func TestTimerfdScheduler_Schedule(t *testing.T) {
	t.Parallel()

	sched := &gotimer.TimerfdScheduler{}

	notified := make(chan struct{}, 1)
	dl, err := sched.Schedule(5*time.Millisecond, func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("sched.Schedule() = %v, want nil", err)
	}
	defer dl.Stop() //nolint:errcheck

	waitNotify(t, notified, 2*time.Second)
}

func TestTimerfdScheduler_Schedule_ZeroDelay(t *testing.T) {
	t.Parallel()

	sched := &gotimer.TimerfdScheduler{}

	notified := make(chan struct{}, 1)
	dl, err := sched.Schedule(0, func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("sched.Schedule() = %v, want nil", err)
	}
	defer dl.Stop() //nolint:errcheck

	waitNotify(t, notified, 2*time.Second)
}

func TestTimerfdScheduler_Reset(t *testing.T) {
	t.Parallel()

	sched := &gotimer.TimerfdScheduler{}

	notified := make(chan struct{}, 1)
	dl, err := sched.Schedule(time.Hour, func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("sched.Schedule() = %v, want nil", err)
	}
	defer dl.Stop() //nolint:errcheck

	if err := dl.Reset(5 * time.Millisecond); err != nil {
		t.Fatalf("dl.Reset() = %v, want nil", err)
	}
	waitNotify(t, notified, 2*time.Second)
}

func TestTimerfdScheduler_Stop(t *testing.T) {
	t.Parallel()

	sched := &gotimer.TimerfdScheduler{}

	notified := make(chan struct{}, 1)
	dl, err := sched.Schedule(100*time.Millisecond, func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("sched.Schedule() = %v, want nil", err)
	}

	if err := dl.Stop(); err != nil {
		t.Fatalf("dl.Stop() = %v, want nil", err)
	}
	ensureNoNotify(t, notified, 200*time.Millisecond)
}

func TestTimerfdScheduler_WithTimer(t *testing.T) {
	t.Parallel()

	sched := &gotimer.TimerfdScheduler{}
	tmr := gotimer.New(&gotimer.TimerOptions{Scheduler: sched})

	fired := make(chan struct{}, 4)
	err := tmr.Init(func(context.Context, *gotimer.Timer) {
		fired <- struct{}{}
	}, 3, 2*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("tmr.Init() = %v, want nil", err)
	}

	// three firings drive the kernel deadline through re-arms, the last
	// one exhausts the repeat count and tears the timer down
	for range 3 {
		waitNotify(t, fired, 2*time.Second)
	}
	waitTimerDone(t, tmr, 2*time.Second)
}
