//go:build linux

package gotimer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"braces.dev/errtrace"
	"golang.org/x/sys/unix"

	"github.com/ghettovoice/gotimer/log"
)

// TimerfdScheduler plants deadlines on kernel timerfd descriptors bound to
// CLOCK_MONOTONIC. Descriptors are opened non-blocking and handed to the
// runtime poller, so a registration waiting for expiration parks its
// goroutine, not an OS thread. The zero value is ready to use.
type TimerfdScheduler struct {
	// Log is the logger that will be used with the scheduler.
	// If nil, the [log.Default] will be used.
	Log *slog.Logger
}

func (s *TimerfdScheduler) log() *slog.Logger {
	if s == nil || s.Log == nil {
		return log.Default()
	}
	return s.Log
}

func (s *TimerfdScheduler) Schedule(delay time.Duration, notify func()) (Deadline, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	dl := &timerfdDeadline{
		file: os.NewFile(uintptr(fd), "timerfd"),
		log:  s.log(),
	}
	if err := dl.Reset(delay); err != nil {
		dl.file.Close() //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}
	go dl.wait(notify)
	return dl, nil
}

type timerfdDeadline struct {
	file *os.File
	log  *slog.Logger
}

func (d *timerfdDeadline) Reset(delay time.Duration) error {
	if delay <= 0 {
		// a zero it_value would disarm the descriptor instead of firing
		delay = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(delay.Nanoseconds())}
	rc, err := d.file.SyscallConn()
	if err != nil {
		return errtrace.Wrap(err)
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.TimerfdSettime(int(fd), 0, &spec, nil)
	}); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(serr)
}

func (d *timerfdDeadline) Stop() error {
	return errtrace.Wrap(d.file.Close())
}

func (d *timerfdDeadline) wait(notify func()) {
	var buf [8]byte
	for {
		if _, err := io.ReadFull(d.file, buf[:]); err != nil {
			if !errors.Is(err, os.ErrClosed) {
				d.log.LogAttrs(context.Background(), slog.LevelDebug,
					"timerfd expiration reader exited",
					slog.Any("error", err),
				)
			}
			return
		}
		notify()
	}
}
