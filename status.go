package gotimer

import "log/slog"

// Status represents the current lifecycle status of a timer.
type Status string

const (
	// StatusCreated indicates the timer is allocated but has no armed deadline yet.
	StatusCreated Status = "created"
	// StatusRunning indicates the timer owns an armed deadline registration.
	StatusRunning Status = "running"
	// StatusPaused indicates the timer keeps its configuration but has no armed deadline.
	StatusPaused Status = "paused"
	// StatusPendingDestroy indicates the timer is marked for destruction.
	// This is the terminal status, no transition out of it is permitted.
	StatusPendingDestroy Status = "pending_destroy"
)

func (s Status) String() string { return string(s) }

// LogValue implements [slog.LogValuer].
func (s Status) LogValue() slog.Value { return slog.StringValue(string(s)) }
