package gotimer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"braces.dev/errtrace"
	"github.com/panjf2000/ants/v2"

	"github.com/ghettovoice/gotimer/log"
)

// Scheduler registers timer deadlines on an underlying timing platform.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Each successful Schedule call yields an independent [Deadline]
// registration that invokes notify once per arm, asynchronously, on a
// goroutine of the scheduler's choice.
type Scheduler interface {
	// Schedule registers a new deadline that invokes notify once delay elapses.
	Schedule(delay time.Duration, notify func()) (Deadline, error)
}

// Deadline is a single deadline registration produced by a [Scheduler].
//
// Reset and Stop never wait for a notification in flight: a notification
// already dispatched may still be delivered after either call returns.
type Deadline interface {
	// Reset re-arms the deadline to invoke notify once delay elapses.
	Reset(delay time.Duration) error
	// Stop disarms the deadline and releases the underlying registration.
	Stop() error
}

var defScheduler = MonotonicScheduler{}

// DefaultScheduler returns the scheduler used by timers when no custom scheduler is provided.
func DefaultScheduler() MonotonicScheduler { return defScheduler }

// MonotonicScheduler plants deadlines on the runtime timer heap via [time.AfterFunc].
// The runtime heap follows the monotonic clock, so wall clock adjustments
// don't disturb pending deadlines.
type MonotonicScheduler struct{}

func (MonotonicScheduler) Schedule(delay time.Duration, notify func()) (Deadline, error) {
	return &monotonicDeadline{tmr: time.AfterFunc(delay, notify)}, nil
}

type monotonicDeadline struct {
	tmr *time.Timer
}

func (d *monotonicDeadline) Reset(delay time.Duration) error {
	d.tmr.Reset(delay)
	return nil
}

func (d *monotonicDeadline) Stop() error {
	d.tmr.Stop()
	return nil
}

// PoolScheduler wraps another scheduler and hands its notifications over
// to a shared worker pool, bounding delivery concurrency across many timers.
// A notification that the pool cannot take is delivered on its own goroutine,
// so no firing is lost.
type PoolScheduler struct {
	sched Scheduler
	pool  *ants.Pool
	log   *slog.Logger
}

// PoolSchedulerOptions is a set of optional settings for a [PoolScheduler].
type PoolSchedulerOptions struct {
	// Scheduler is the scheduler registering the deadlines.
	// If nil, the [DefaultScheduler] is used.
	Scheduler Scheduler
	// ExpiryDuration limits how long idle pool workers survive before purge.
	// If zero or below, defaults to 10 seconds.
	ExpiryDuration time.Duration
	// Log is the logger that will be used with the scheduler.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (o *PoolSchedulerOptions) scheduler() Scheduler {
	if o == nil || o.Scheduler == nil {
		return DefaultScheduler()
	}
	return o.Scheduler
}

func (o *PoolSchedulerOptions) expiryDur() time.Duration {
	if o == nil || o.ExpiryDuration <= 0 {
		return 10 * time.Second
	}
	return o.ExpiryDuration
}

func (o *PoolSchedulerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// NewPoolScheduler creates a new [PoolScheduler] delivering at most size
// notifications concurrently.
func NewPoolScheduler(size int, opts *PoolSchedulerOptions) (*PoolScheduler, error) {
	logger := opts.log()
	pool, err := ants.NewPool(size, ants.WithOptions(ants.Options{
		ExpiryDuration: opts.expiryDur(),
		Nonblocking:    true,
		PanicHandler: func(v any) {
			logger.LogAttrs(context.Background(), slog.LevelError,
				"recovered from panic in notification delivery",
				slog.Any("panic", v),
			)
		},
		Logger: poolLogger{logger},
	}))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &PoolScheduler{
		sched: opts.scheduler(),
		pool:  pool,
		log:   logger,
	}, nil
}

func (s *PoolScheduler) Schedule(delay time.Duration, notify func()) (Deadline, error) {
	return errtrace.Wrap2(s.sched.Schedule(delay, s.deliverFunc(notify)))
}

func (s *PoolScheduler) deliverFunc(notify func()) func() {
	return func() {
		if err := s.pool.Submit(notify); err != nil {
			s.log.LogAttrs(context.Background(), slog.LevelDebug,
				"deliver notification outside of the pool",
				slog.Any("error", err),
			)
			go notify()
		}
	}
}

// Release shuts the delivery pool down. Deadlines already registered keep
// firing, their notifications fall back to dedicated goroutines.
func (s *PoolScheduler) Release() { s.pool.Release() }

type poolLogger struct {
	log *slog.Logger
}

func (l poolLogger) Printf(format string, args ...any) {
	l.log.LogAttrs(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...))
}
