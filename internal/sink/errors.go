package sink

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a record that could not be decoded. Fatal for the
	// sub-batch it belongs to.
	ErrDecode = errors.New("decode failed")
	// ErrTransientWrite marks a write failure worth retrying.
	ErrTransientWrite = errors.New("transient write failure")
	// ErrFatalWrite marks a write failure retrying cannot fix.
	ErrFatalWrite = errors.New("fatal write failure")
	// ErrRetriableDispatch is reported once every attempt of a dispatch unit
	// failed transiently. The host may retry the whole consumption cycle.
	ErrRetriableDispatch = errors.New("dispatch retries exhausted")
	// ErrCancelledDispatch is reported when a unit was cancelled before it
	// could finish, typically while backing off.
	ErrCancelledDispatch = errors.New("dispatch cancelled")
	// ErrShutdown is returned by Dispatch after Shutdown.
	ErrShutdown = errors.New("sink is shut down")
)

// Transient classifies err as a retriable write failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientWrite, err)
}

// Fatal classifies err as a non-retriable write failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatalWrite, err)
}

// IsTransient reports whether err is a single transient write failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientWrite) && !errors.Is(err, ErrFatalWrite)
}

// IsRetriable reports whether the host may retry the outer operation.
// Only exhausted retries qualify; decode, fatal and cancelled outcomes do not.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrRetriableDispatch)
}

// ReconcileError is raised when reconciliation observes a failed dispatch
// unit for a partition.
type ReconcileError struct {
	Key PartitionKey
	Err error
}

func (e *ReconcileError) Error() string {
	kind := "non-retriable"
	if e.Retriable() {
		kind = "retriable"
	}
	return fmt.Sprintf("%s dispatch failure for partition %s: %v", kind, e.Key, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the outer operation is safe to retry.
func (e *ReconcileError) Retriable() bool {
	return IsRetriable(e.Err)
}
