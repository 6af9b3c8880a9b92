package gotimer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/gotimer/internal/types"
	"github.com/ghettovoice/gotimer/log"
)

const (
	// RepeatOnce makes the timer fire a single time before it destroys itself.
	RepeatOnce uint32 = 1
	// RepeatForever makes the timer fire until it is explicitly destroyed.
	RepeatForever uint32 = math.MaxUint32
)

// readyDelay is the deadline delay used by [Timer.Ready] to force the next firing.
const readyDelay = time.Nanosecond

// Callback is invoked on each timer firing.
//
// The callback is called with the timer's context, see [Timer.Context].
// The timer can be retrieved from the context using [FromContext].
type Callback = func(ctx context.Context, tmr *Timer)

const timerCtxKey types.ContextKey = "timer"

// FromContext extracts the timer from the context.
func FromContext(ctx context.Context) (*Timer, bool) {
	tmr, ok := ctx.Value(timerCtxKey).(*Timer)
	return tmr, ok
}

// TimerOptions is a set of optional settings for a [Timer].
type TimerOptions struct {
	// Scheduler is the deadline scheduler that will be used with the timer.
	// If nil, the [DefaultScheduler] will be used.
	Scheduler Scheduler
	// Log is the logger that will be used with the timer.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (o *TimerOptions) scheduler() Scheduler {
	if o == nil || o.Scheduler == nil {
		return DefaultScheduler()
	}
	return o.Scheduler
}

func (o *TimerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Timer is a self-managing software timer.
//
// A timer starts inert, see [New]. [Timer.Init] arms it: the timer fires
// every timeout interval until the remaining repeat count is exhausted or
// the timer is destroyed. On each firing the callback is invoked outside
// of the internal guard, so it may call any timer method, including
// [Timer.Destroy].
//
// The timer owns its deadline registration and releases it exactly once:
// either by an explicit [Timer.Destroy] or by the firing that exhausts the
// repeat count. [Timer.Done] is closed once the teardown completed. A
// destroy requested while the timer is running is deferred to the next
// firing, which releases the registration without invoking the callback.
//
// All methods are safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	fsm    *stateless.StateMachine
	status atomic.Value

	cb       Callback
	repeat   uint32
	timeout  time.Duration
	userData any

	deadline  Deadline
	armed     bool
	gen       uint64
	destroyed bool

	fired     atomic.Uint64
	lastFired atomic.Int64

	done  chan struct{}
	sched Scheduler
	log   *slog.Logger
	ctx   context.Context
}

func newTimer(opts *TimerOptions) *Timer {
	t := &Timer{
		repeat: RepeatForever,
		done:   make(chan struct{}),
		sched:  opts.scheduler(),
		log:    opts.log(),
	}
	t.ctx = context.WithValue(context.Background(), timerCtxKey, t)
	return t
}

// New creates a new inert [Timer] in [StatusCreated].
//
// The timer fires forever until [Timer.Init] or [Timer.SetRepeatCount]
// narrows the repeat count.
func New(opts *TimerOptions) *Timer {
	t := newTimer(opts)
	t.initFSM(StatusCreated)

	t.log.LogAttrs(t.ctx, slog.LevelDebug, "timer created", slog.Any("timer", t))

	return t
}

const (
	tmrEvtReset     = "reset"
	tmrEvtStart     = "start"
	tmrEvtPause     = "pause"
	tmrEvtResume    = "resume"
	tmrEvtReady     = "ready"
	tmrEvtConfigure = "configure"
	tmrEvtDestroy   = "destroy"
	tmrEvtExhaust   = "exhaust"
)

func (t *Timer) initFSM(start Status) {
	t.status.Store(start)
	t.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (any, error) { return t.Status(), nil },
		func(_ context.Context, state any) error {
			t.status.Store(state.(Status)) //nolint:forcetypeassert
			return nil
		},
		stateless.FiringImmediate,
	)

	t.fsm.SetTriggerParameters(tmrEvtConfigure, reflect.TypeOf(slog.Attr{}))

	t.fsm.Configure(StatusCreated).
		PermitReentry(tmrEvtReset).
		InternalTransition(tmrEvtConfigure, t.actConfigured).
		Permit(tmrEvtStart, StatusRunning).
		Permit(tmrEvtDestroy, StatusPendingDestroy).
		OnEntryFrom(tmrEvtReset, t.actReset)

	t.fsm.Configure(StatusRunning).
		PermitReentry(tmrEvtReady).
		InternalTransition(tmrEvtConfigure, t.actConfigured).
		Permit(tmrEvtReset, StatusCreated).
		Permit(tmrEvtPause, StatusPaused).
		Permit(tmrEvtDestroy, StatusPendingDestroy).
		Permit(tmrEvtExhaust, StatusPendingDestroy).
		OnEntryFrom(tmrEvtStart, t.actStarted).
		OnEntryFrom(tmrEvtResume, t.actResumed).
		OnEntryFrom(tmrEvtReady, t.actReadied)

	t.fsm.Configure(StatusPaused).
		PermitReentry(tmrEvtPause).
		InternalTransition(tmrEvtConfigure, t.actConfigured).
		Permit(tmrEvtReset, StatusCreated).
		Permit(tmrEvtResume, StatusRunning).
		Permit(tmrEvtReady, StatusRunning).
		Permit(tmrEvtDestroy, StatusPendingDestroy).
		Permit(tmrEvtExhaust, StatusPendingDestroy).
		OnEntryFrom(tmrEvtPause, t.actPaused)

	t.fsm.Configure(StatusPendingDestroy).
		Ignore(tmrEvtDestroy).
		OnEntry(t.actDestroying)

	t.fsm.OnUnhandledTrigger(func(_ context.Context, state any, trigger any, _ []string) error {
		return NewIllegalStateError("cannot %s timer in status %q", trigger, state) //errtrace:skip
	})
}

func (t *Timer) actReset(ctx context.Context, _ ...any) error {
	t.gen++
	if t.deadline != nil {
		if err := t.deadline.Stop(); err != nil {
			t.log.LogAttrs(ctx, slog.LevelError, "timer deadline teardown failed",
				slog.Any("timer", t),
				slog.Any("error", NewTeardownFailureError(err)),
			)
		}
		t.deadline = nil
	}
	t.armed = false

	t.log.LogAttrs(ctx, slog.LevelDebug, "timer reset", slog.Any("timer", t))

	return nil
}

func (t *Timer) actStarted(ctx context.Context, _ ...any) error {
	t.log.LogAttrs(ctx, slog.LevelDebug, "timer started",
		slog.Any("timer", t),
		slog.Duration("timeout", t.timeout),
		slog.Time("expires_at", time.Now().Add(t.timeout)),
	)

	return nil
}

func (t *Timer) actPaused(ctx context.Context, _ ...any) error {
	if t.deadline != nil {
		if err := t.deadline.Stop(); err != nil {
			t.log.LogAttrs(ctx, slog.LevelError, "timer deadline teardown failed",
				slog.Any("timer", t),
				slog.Any("error", NewTeardownFailureError(err)),
			)
		}
		t.deadline = nil
	}
	t.armed = false

	t.log.LogAttrs(ctx, slog.LevelDebug, "timer paused", slog.Any("timer", t))

	return nil
}

func (t *Timer) actResumed(ctx context.Context, _ ...any) error {
	t.log.LogAttrs(ctx, slog.LevelDebug, "timer resumed", slog.Any("timer", t))

	return nil
}

func (t *Timer) actReadied(ctx context.Context, _ ...any) error {
	t.log.LogAttrs(ctx, slog.LevelDebug, "timer readied", slog.Any("timer", t))

	return nil
}

func (t *Timer) actConfigured(ctx context.Context, args ...any) error {
	attr := args[0].(slog.Attr) //nolint:forcetypeassert

	t.log.LogAttrs(ctx, slog.LevelDebug, "timer configured", slog.Any("timer", t), attr)

	return nil
}

func (t *Timer) actDestroying(ctx context.Context, _ ...any) error {
	t.log.LogAttrs(ctx, slog.LevelDebug, "timer destroying", slog.Any("timer", t))

	return nil
}

// Init initializes the timer and starts the firing cycle: the callback will
// be invoked every timeout interval, repeatCount times. The timer destroys
// itself after the last firing.
//
// Init can be called again on a running or paused timer: the pending
// deadline is released and the timer restarts with the new settings. A
// notification already in flight from the replaced deadline is dropped.
//
// On a registration failure the timer is left in [StatusCreated] with the
// new settings retained, and Init can be retried.
func (t *Timer) Init(cb Callback, repeatCount uint32, timeout time.Duration, userData any) error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}
	if timeout < 0 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid timeout"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtReset); err != nil {
		return errtrace.Wrap(err)
	}

	t.cb = cb
	t.repeat = repeatCount
	t.timeout = timeout
	t.userData = userData

	if err := t.armLocked(timeout); err != nil {
		return errtrace.Wrap(err)
	}

	if err := t.fsm.FireCtx(t.ctx, tmrEvtStart); err != nil {
		panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtStart, t.Status(), err))
	}
	return nil
}

// Destroy releases the timer's deadline registration and marks the timer
// destroyed. A created or paused timer is torn down synchronously. For a
// running timer the teardown is deferred to the next firing, which releases
// the registration without invoking the callback. Destroy of an already
// destroyed timer is a no-op.
func (t *Timer) Destroy() error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.Status()
	if err := t.fsm.FireCtx(t.ctx, tmrEvtDestroy); err != nil {
		panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtDestroy, prev, err))
	}

	switch prev {
	case StatusPendingDestroy:
		return nil
	case StatusRunning:
		if t.armed {
			t.log.LogAttrs(t.ctx, slog.LevelDebug, "timer destroy deferred", slog.Any("timer", t))
			return nil
		}
		return errtrace.Wrap(t.teardownLocked())
	default:
		return errtrace.Wrap(t.teardownLocked())
	}
}

// Pause suspends the firing cycle: the pending deadline is released and the
// timer settings are retained. Pause of a paused timer is a no-op.
func (t *Timer) Pause() error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return errtrace.Wrap(t.fsm.FireCtx(t.ctx, tmrEvtPause))
}

// Resume restarts the firing cycle of a paused timer with the retained
// settings. The firing interval is counted from the resume.
func (t *Timer) Resume() error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtResume); err != nil {
		return errtrace.Wrap(err)
	}
	if err := t.armLocked(t.timeout); err != nil {
		if ferr := t.fsm.FireCtx(t.ctx, tmrEvtPause); ferr != nil {
			panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtPause, t.Status(), ferr))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

// Ready forces the timer to fire as soon as possible: the next deadline is
// re-armed with a minimal delay. A paused timer becomes running. Later
// firings are scheduled with the stored timeout again.
func (t *Timer) Ready() error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.Status()
	if err := t.fsm.FireCtx(t.ctx, tmrEvtReady); err != nil {
		return errtrace.Wrap(err)
	}
	if err := t.armLocked(readyDelay); err != nil {
		if prev == StatusPaused {
			if ferr := t.fsm.FireCtx(t.ctx, tmrEvtPause); ferr != nil {
				panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtPause, t.Status(), ferr))
			}
		}
		return errtrace.Wrap(err)
	}
	return nil
}

// SetCallback replaces the timer callback. It takes effect on the next firing.
func (t *Timer) SetCallback(cb Callback) error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtConfigure, slog.Any("callback", log.FmtValue(cb, false))); err != nil {
		return errtrace.Wrap(err)
	}
	t.cb = cb
	return nil
}

// SetRepeatCount replaces the remaining repeat count.
// See [RepeatOnce] and [RepeatForever].
func (t *Timer) SetRepeatCount(repeatCount uint32) error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtConfigure, slog.Uint64("repeat_count", uint64(repeatCount))); err != nil {
		return errtrace.Wrap(err)
	}
	t.repeat = repeatCount
	return nil
}

// SetTimeout replaces the firing interval. If the timer is running, the
// pending deadline is re-armed with the new timeout immediately, without
// waiting out the remainder of the previous interval. A notification
// already in flight is not disturbed.
func (t *Timer) SetTimeout(timeout time.Duration) error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}
	if timeout < 0 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid timeout"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtConfigure, slog.Duration("timeout", timeout)); err != nil {
		return errtrace.Wrap(err)
	}
	t.timeout = timeout

	if t.Status() == StatusRunning {
		if err := t.armLocked(timeout); err != nil {
			return errtrace.Wrap(err)
		}
	}
	return nil
}

// SetUserData replaces the user data attached to the timer.
func (t *Timer) SetUserData(userData any) error {
	if t == nil {
		return errtrace.Wrap(ErrInvalidTimer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fsm.FireCtx(t.ctx, tmrEvtConfigure, slog.Any("user_data", log.FmtValue(userData, false))); err != nil {
		return errtrace.Wrap(err)
	}
	t.userData = userData
	return nil
}

// RepeatCount returns the remaining repeat count.
func (t *Timer) RepeatCount() uint32 {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repeat
}

// Timeout returns the firing interval.
func (t *Timer) Timeout() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// UserData returns the user data attached to the timer.
func (t *Timer) UserData() any {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userData
}

// Status returns the current timer status.
func (t *Timer) Status() Status {
	if t == nil {
		return ""
	}
	st, _ := t.status.Load().(Status)
	return st
}

// IsPaused reports whether the timer is paused.
func (t *Timer) IsPaused() bool {
	return t.Status() == StatusPaused
}

// Done returns a channel that is closed once the timer teardown completed.
func (t *Timer) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Context returns the timer's context. The timer can be retrieved from it
// using [FromContext].
func (t *Timer) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.ctx
}

// Fired returns the total number of firings.
func (t *Timer) Fired() uint64 {
	if t == nil {
		return 0
	}
	return t.fired.Load()
}

// LastFiredAt returns the time of the last firing.
func (t *Timer) LastFiredAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	if nsec := t.lastFired.Load(); nsec > 0 {
		return time.Unix(0, nsec)
	}
	return time.Time{}
}

// LogValue implements [slog.LogValuer].
func (t *Timer) LogValue() slog.Value {
	if t == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("ptr", fmt.Sprintf("%p", t)),
		slog.Any("status", t.Status()),
		slog.Uint64("fired", t.fired.Load()),
	)
}

// armLocked plants the next deadline. Caller must hold the guard.
func (t *Timer) armLocked(delay time.Duration) error {
	if t.deadline != nil {
		if err := t.deadline.Reset(delay); err != nil {
			t.armed = false
			return errtrace.Wrap(NewScheduleFailureError(err))
		}
		t.armed = true
		return nil
	}

	dl, err := t.sched.Schedule(delay, t.notifyFunc(t.gen))
	if err != nil {
		return errtrace.Wrap(NewScheduleFailureError(err))
	}
	t.deadline = dl
	t.armed = true
	return nil
}

func (t *Timer) notifyFunc(gen uint64) func() {
	return func() { t.onDeadline(gen) }
}

func (t *Timer) onDeadline(gen uint64) {
	t.mu.Lock()

	if gen != t.gen {
		// notification from a deadline replaced by re-init
		t.mu.Unlock()
		return
	}

	t.log.LogAttrs(t.ctx, slog.LevelDebug, "timer fired", slog.Any("timer", t))

	switch t.Status() {
	case StatusPendingDestroy:
		t.teardownLocked() //nolint:errcheck
		t.mu.Unlock()
		return
	case StatusCreated:
		t.mu.Unlock()
		return
	}

	t.armed = false

	if t.repeat > 0 && t.repeat < RepeatForever {
		t.repeat--
		if t.repeat == 0 {
			if err := t.fsm.FireCtx(t.ctx, tmrEvtExhaust); err != nil {
				panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtExhaust, t.Status(), err))
			}
		}
	}

	cb := t.cb
	ctx := t.ctx
	t.fired.Add(1)
	t.lastFired.Store(time.Now().UnixNano())

	t.mu.Unlock()

	if cb != nil {
		t.invokeCallback(ctx, cb)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return
	}

	switch {
	case t.Status() == StatusPendingDestroy:
		t.teardownLocked() //nolint:errcheck
	case t.repeat == 0:
		if err := t.fsm.FireCtx(t.ctx, tmrEvtExhaust); err != nil {
			panic(fmt.Errorf("fire %q in status %q: %w", tmrEvtExhaust, t.Status(), err))
		}
		t.teardownLocked() //nolint:errcheck
	case t.Status() == StatusRunning:
		if err := t.armLocked(t.timeout); err != nil {
			t.log.LogAttrs(t.ctx, slog.LevelError, "timer rearm failed",
				slog.Any("timer", t),
				slog.Any("error", err),
			)
		}
	}
}

func (t *Timer) invokeCallback(ctx context.Context, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			t.log.LogAttrs(ctx, slog.LevelError, "recovered from panic in timer callback",
				slog.Any("timer", t),
				slog.Any("panic", r),
			)
		}
	}()
	cb(ctx, t)
}

// teardownLocked releases the deadline registration and closes the done
// channel. It runs at most once. Caller must hold the guard.
func (t *Timer) teardownLocked() error {
	if t.destroyed {
		return nil
	}
	t.destroyed = true

	var err error
	if t.deadline != nil {
		if serr := t.deadline.Stop(); serr != nil {
			err = NewTeardownFailureError(serr)
			t.log.LogAttrs(t.ctx, slog.LevelError, "timer deadline teardown failed",
				slog.Any("timer", t),
				slog.Any("error", err),
			)
		}
		t.deadline = nil
	}
	t.armed = false
	t.cb = nil
	t.userData = nil
	close(t.done)

	t.log.LogAttrs(t.ctx, slog.LevelDebug, "timer destroyed", slog.Any("timer", t))

	return errtrace.Wrap(err)
}

// Snapshot returns a snapshot of the timer state that can be serialized.
// Runtime-only fields such as the callback and the user data are not
// captured and must be reattached after restoration.
func (t *Timer) Snapshot() *TimerSnapshot {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) snapshotLocked() *TimerSnapshot {
	return &TimerSnapshot{
		Time:        time.Now(),
		Status:      t.Status(),
		RepeatCount: t.repeat,
		Timeout:     t.timeout,
		Armed:       t.armed,
		Fired:       t.fired.Load(),
		LastFiredAt: t.LastFiredAt(),
	}
}

var jsonNull = []byte("null")

// MarshalJSON implements [json.Marshaler].
func (t *Timer) MarshalJSON() ([]byte, error) {
	if t == nil {
		return jsonNull, nil
	}
	return errtrace.Wrap2(json.Marshal(t.Snapshot()))
}

// TimerSnapshot represents a snapshot of a timer state.
// It contains the data needed to serialize and restore a timer.
type TimerSnapshot struct {
	// Time is the snapshot timestamp.
	Time time.Time `json:"time"`
	// Status is the timer status.
	Status Status `json:"status"`
	// RepeatCount is the remaining repeat count.
	RepeatCount uint32 `json:"repeat_count"`
	// Timeout is the firing interval.
	Timeout time.Duration `json:"timeout"`
	// Armed reports whether a deadline was armed at snapshot time.
	Armed bool `json:"armed,omitzero"`
	// Fired is the total number of firings.
	Fired uint64 `json:"fired,omitzero"`
	// LastFiredAt is the time of the last firing.
	LastFiredAt time.Time `json:"last_fired_at,omitzero"`
}

func (snap *TimerSnapshot) IsValid() bool {
	return snap != nil &&
		(snap.Status == StatusCreated || snap.Status == StatusRunning || snap.Status == StatusPaused) &&
		snap.Timeout >= 0
}

// RestoreTimer recreates a timer from its snapshot.
//
// A timer restored to [StatusRunning] is re-armed with the stored timeout
// counted from the restore. User data is not captured by the snapshot,
// reattach it with [Timer.SetUserData].
func RestoreTimer(snap *TimerSnapshot, cb Callback, opts *TimerOptions) (*Timer, error) {
	if !snap.IsValid() {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid snapshot"))
	}

	t := newTimer(opts)
	t.cb = cb
	t.repeat = snap.RepeatCount
	t.timeout = snap.Timeout
	t.fired.Store(snap.Fired)
	if !snap.LastFiredAt.IsZero() {
		t.lastFired.Store(snap.LastFiredAt.UnixNano())
	}
	t.initFSM(snap.Status)

	if snap.Status == StatusRunning {
		t.mu.Lock()
		err := t.armLocked(t.timeout)
		t.mu.Unlock()
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
	}

	t.log.LogAttrs(t.ctx, slog.LevelDebug, "timer restored", slog.Any("timer", t))

	return t, nil
}
