package railsync

import (
	"errors"
	"fmt"
)

// RuntimeError is an operational failure: bad configuration, an unreachable
// or refusing TestRail, exhausted retries. It exits with code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError means every result was reported but some of the
// reported tests failed. It exits with code 1.
type TestFailureError struct {
	Failed   int
	Reported int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d of %d reported tests failed", e.Failed, e.Reported)
}

func NewTestFailureError(failed, reported int) *TestFailureError {
	return &TestFailureError{Failed: failed, Reported: reported}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
