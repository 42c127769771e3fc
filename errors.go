package brood

import (
	"errors"
	"fmt"
)

// ErrKilled marks a child that exited because of a deliberate termination
// (Stop grace expiry, Kill, Run.Terminate or Group.Shutdown) rather than an
// organic failure. Group.Wait does not count ErrKilled children as failures.
var ErrKilled = errors.New("child killed")

// PanicError carries a panic recovered at the spawn boundary of a function
// child, together with the stack captured at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("child panicked: %v", e.Value)
}

// ExitError wraps a command child's non-zero exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("child exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
