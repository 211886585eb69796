package partition

import (
	"fmt"

	"github.com/kapetan-io/errors"
)

// ErrInvariantViolation is a typed error for a programming error in how the
// lifecycle core was driven, kept apart from the recoverable/unrecoverable
// classification. No package in this module returns it: startup reports a
// second Startup and a Shutdown before Startup with its own ErrAlreadyStarted
// and ErrNotStarted, and the supervisor drops role changes delivered after
// close without an error.
type ErrInvariantViolation struct {
	Msg string
}

func NewInvariantViolation(msg string, args ...any) *ErrInvariantViolation {
	return &ErrInvariantViolation{Msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrInvariantViolation) Error() string {
	return e.Msg
}

func (e *ErrInvariantViolation) Is(target error) bool {
	var err *ErrInvariantViolation
	return errors.As(target, &err)
}

// ErrUnrecoverable wraps a cause that signals the replica must not attempt
// local recovery; the supervisor recognizes this path via errors.As rather
// than a sentinel value so the cause is never lost.
type ErrUnrecoverable struct {
	Cause error
}

func NewUnrecoverable(cause error) *ErrUnrecoverable {
	return &ErrUnrecoverable{Cause: cause}
}

func (e *ErrUnrecoverable) Error() string {
	return fmt.Sprintf("unrecoverable failure: %v", e.Cause)
}

func (e *ErrUnrecoverable) Unwrap() error {
	return e.Cause
}

func (e *ErrUnrecoverable) Is(target error) bool {
	var err *ErrUnrecoverable
	return errors.As(target, &err)
}

// ErrListenerFailed wraps the first error returned by a PartitionListener
// callback during a role transition. The spec treats a listener failure as
// an install failure, so it is classified through the same
// recoverable/unrecoverable path as a step-open failure.
type ErrListenerFailed struct {
	Cause error
}

func NewListenerFailed(cause error) *ErrListenerFailed {
	return &ErrListenerFailed{Cause: cause}
}

func (e *ErrListenerFailed) Error() string {
	return fmt.Sprintf("partition listener failed: %v", e.Cause)
}

func (e *ErrListenerFailed) Unwrap() error {
	return e.Cause
}

func (e *ErrListenerFailed) Is(target error) bool {
	var err *ErrListenerFailed
	return errors.As(target, &err)
}
