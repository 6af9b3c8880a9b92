package gotimer

import "github.com/ghettovoice/gotimer/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
	// ErrInvalidTimer is returned when an operation is called on a nil timer.
	ErrInvalidTimer Error = "invalid timer"
	// ErrIllegalState is returned when an operation is not permitted in the current timer status.
	ErrIllegalState Error = "illegal timer state"
)

// Scheduler errors.
const (
	// ErrScheduleFailure is returned when the deadline scheduler rejected a registration or a re-arm.
	ErrScheduleFailure Error = "deadline schedule failure"
	// ErrTeardownFailure is returned when the deadline registration release failed.
	// The timer teardown still completes.
	ErrTeardownFailure Error = "deadline teardown failure"
)

// Error represents a timer error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

// NewIllegalStateError creates a new error with [ErrIllegalState] or
// wraps provided error with [ErrIllegalState].
func NewIllegalStateError(args ...any) error {
	return errorutil.NewWrapperError(ErrIllegalState, args...) //errtrace:skip
}

// NewScheduleFailureError creates a new error with [ErrScheduleFailure] or
// wraps provided error with [ErrScheduleFailure].
func NewScheduleFailureError(args ...any) error {
	return errorutil.NewWrapperError(ErrScheduleFailure, args...) //errtrace:skip
}

// NewTeardownFailureError creates a new error with [ErrTeardownFailure] or
// wraps provided error with [ErrTeardownFailure].
func NewTeardownFailureError(args ...any) error {
	return errorutil.NewWrapperError(ErrTeardownFailure, args...) //errtrace:skip
}
