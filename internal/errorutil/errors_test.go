package errorutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ghettovoice/gotimer/internal/errorutil"
)

const errSentinel errorutil.Error = "sentinel failure"

func TestError(t *testing.T) {
	t.Parallel()

	err := errorutil.Error("boom")
	if got, want := err.Error(), "boom"; got != want {
		t.Errorf("err.Error() = %q, want %q", got, want)
	}
	if !errors.Is(fmt.Errorf("wrap: %w", err), err) {
		t.Error("errors.Is() = false, want true")
	}
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := errorutil.Errorf("fail %d", 42)
	if got, want := err.Error(), "fail 42"; got != want {
		t.Errorf("err.Error() = %q, want %q", got, want)
	}
}

func TestNewWrapperError(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")

	cases := []struct {
		name    string
		args    []any
		wantMsg string
		wantIs  []error
	}{
		{
			name:    "no args",
			wantMsg: "sentinel failure",
			wantIs:  []error{errSentinel},
		},
		{
			name:    "error arg",
			args:    []any{cause},
			wantMsg: "sentinel failure: root cause",
			wantIs:  []error{errSentinel, cause},
		},
		{
			name:    "string arg",
			args:    []any{"operation rejected"},
			wantMsg: "sentinel failure: operation rejected",
			wantIs:  []error{errSentinel},
		},
		{
			name:    "string with args",
			args:    []any{"operation %q rejected", "init"},
			wantMsg: `sentinel failure: operation "init" rejected`,
			wantIs:  []error{errSentinel},
		},
		{
			name:    "unsupported arg",
			args:    []any{42},
			wantMsg: "sentinel failure",
			wantIs:  []error{errSentinel},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			err := errorutil.NewWrapperError(errSentinel, c.args...)
			if got, want := err.Error(), c.wantMsg; got != want {
				t.Errorf("err.Error() = %q, want %q", got, want)
			}
			for _, target := range c.wantIs {
				if !errors.Is(err, target) {
					t.Errorf("errors.Is(err, %v) = false, want true", target)
				}
			}
		})
	}
}

func TestNewWrapperError_AlreadyWrapped(t *testing.T) {
	t.Parallel()

	wrapped := errorutil.NewWrapperError(errSentinel, errors.New("root cause"))
	if got := errorutil.NewWrapperError(errSentinel, wrapped); got != wrapped { //nolint:errorlint
		t.Errorf("errorutil.NewWrapperError() = %v, want the wrapped error unchanged", got)
	}
}

func TestNewInvalidArgumentError(t *testing.T) {
	t.Parallel()

	err := errorutil.NewInvalidArgumentError("negative timeout")
	if !errors.Is(err, errorutil.ErrInvalidArgument) {
		t.Error("errors.Is() = false, want true")
	}
	if got, want := err.Error(), "invalid argument: negative timeout"; got != want {
		t.Errorf("err.Error() = %q, want %q", got, want)
	}
}
