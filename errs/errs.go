// Package errs holds the error taxonomy shared by the imagecore packages.
//
// Callers match with errors.Is; every package wraps these sentinels with
// context through fmt.Errorf("...: %w", ...).
package errs

import (
	"context"
	"errors"
)

var (
	// ErrMalformed reports invalid magic, truncated reads or inconsistent
	// offsets in binary input.
	ErrMalformed = errors.New("malformed input")

	// ErrUnsupported reports well-formed input that is not handled.
	ErrUnsupported = errors.New("unsupported input")

	// ErrNoProfile is returned when no parser could extract a rendering profile.
	ErrNoProfile = errors.New("cannot parse: no profile extracted")

	// ErrInsufficientMemory is returned when an allocation would exceed the
	// memory budget and nothing could be reclaimed.
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrCanceled reports a cooperative cancellation.
	ErrCanceled = errors.New("operation canceled")

	// ErrContractViolation reports a caller bug.
	ErrContractViolation = errors.New("contract violation")

	// ErrDisposed is returned on use of a released shared handle.
	ErrDisposed = errors.New("disposed")
)

// canceled wraps both ErrCanceled and the context error that caused it.
type canceled struct {
	cause error
}

func (c canceled) Error() string {
	return ErrCanceled.Error() + ": " + c.cause.Error()
}

func (c canceled) Is(target error) bool {
	return target == ErrCanceled
}

func (c canceled) Unwrap() error { return c.cause }

// Canceled converts a context error into an error matching ErrCanceled.
// Other errors are returned unchanged.
func Canceled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, ErrCanceled) {
			return err
		}
		return canceled{cause: err}
	}
	return err
}

// IsCanceled reports whether err is a cancellation rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
