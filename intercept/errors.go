package intercept

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCallShape is returned when a Request cannot be captured as a
	// single method invocation. No aspect handler runs for such a request.
	ErrInvalidCallShape = errors.New("intercept: invalid call shape")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("intercept: operation timed out")

	// ErrInvalidResultType is returned by the typed helpers when the value
	// produced by a run cannot be asserted to the requested result type.
	ErrInvalidResultType = errors.New("intercept: invalid result type")

	// ErrInvalidTransition guards the run state machine.
	ErrInvalidTransition = errors.New("intercept: invalid state transition")

	// ErrExiting is returned by waits interrupted by the exit signal.
	ErrExiting = errors.New("intercept: application exiting")
)

// ShapeError describes why a Request was rejected.
type ShapeError struct {
	Method string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidCallShape, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidCallShape, e.Method, e.Reason)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrInvalidCallShape
}

// TimeoutError is returned by Complete and Future.Complete when the wait
// elapsed before the operation finished. The operation itself keeps running.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("intercept: operation did not complete within %s", e.After)
	}
	return fmt.Sprintf("intercept: %s did not complete within %s", e.Operation, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PanicError wraps a panic recovered from the underlying call.
type PanicError struct {
	Call  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("intercept: panic in %s: %v", e.Call, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AspectError reports a handler failure at a given stage.
type AspectError struct {
	Aspect string
	Stage  Stage
	Err    error
}

func (e *AspectError) Error() string {
	return fmt.Sprintf("intercept: aspect %q failed at %s: %v", e.Aspect, e.Stage, e.Err)
}

func (e *AspectError) Unwrap() error {
	return e.Err
}
