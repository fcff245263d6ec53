package queue

import (
	"errors"
	"fmt"
)

// Common errors returned by queue operations.
var (
	// ErrNotFound is returned when a queue or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPayload is returned when a payload cannot be serialized or
	// fails validation. It is a producer error and is never retried.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrTransientDispatch is returned when the job store is unavailable.
	ErrTransientDispatch = errors.New("job store unavailable")

	// ErrNotRetryable is returned by RetryJob for jobs it cannot move back to
	// waiting, such as completed jobs or active jobs that have not stalled.
	ErrNotRetryable = errors.New("job is not retryable")

	// ErrInvalidStatus is returned when a status argument is not accepted by an operation.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrConflict is returned by Store.Update when the stored job is no
	// longer in the expected status.
	ErrConflict = errors.New("job status changed concurrently")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	ResourceType string // "queue" or "job"
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidPayloadError wraps ErrInvalidPayload with the offending field.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

func (e *InvalidPayloadError) Unwrap() error { return ErrInvalidPayload }

func (e *InvalidPayloadError) Is(target error) bool { return target == ErrInvalidPayload }

// DispatchError reports a job store failure. Callers may retry.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransientDispatch, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrTransientDispatch, e.Err} }

func conflictError(id string, want, got JobStatus) error {
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, got, want)
}

// IsConflict checks if an error is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resourceType, resourceID string) error {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// NewInvalidPayloadError creates an InvalidPayloadError.
func NewInvalidPayloadError(field, reason string) error {
	return &InvalidPayloadError{Field: field, Reason: reason}
}

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidPayload checks if an error is or wraps ErrInvalidPayload.
func IsInvalidPayload(err error) bool { return errors.Is(err, ErrInvalidPayload) }

// IsTransient checks if an error is or wraps ErrTransientDispatch.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientDispatch) }

// wrapStore classifies a store error: not-found and closed errors pass
// through, anything else becomes a DispatchError.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsInvalidPayload(err) || IsConflict(err) || errors.Is(err, ErrClosed) || IsTransient(err) {
		return err
	}
	return &DispatchError{Op: op, Err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the job fails without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried: errors marked with
// Permanent and invalid payloads.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || IsInvalidPayload(err)
}
