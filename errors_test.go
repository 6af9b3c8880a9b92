package gotimer_test

import (
	"errors"
	"testing"

	"github.com/ghettovoice/gotimer"
)

func TestErrorConstructors(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")

	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"illegal state", gotimer.NewIllegalStateError(cause), gotimer.ErrIllegalState},
		{"schedule failure", gotimer.NewScheduleFailureError(cause), gotimer.ErrScheduleFailure},
		{"teardown failure", gotimer.NewTeardownFailureError(cause), gotimer.ErrTeardownFailure},
		{"invalid argument", gotimer.NewInvalidArgumentError(cause), gotimer.ErrInvalidArgument},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if !errors.Is(c.err, c.sentinel) {
				t.Errorf("errors.Is(err, %v) = false, want true", c.sentinel)
			}
			if !errors.Is(c.err, cause) {
				t.Errorf("errors.Is(err, %v) = false, want true", cause)
			}
		})
	}
}
