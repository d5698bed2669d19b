package core

import (
	"errors"
	"fmt"
	"time"
)

// Store and state errors
var (
	ErrNotFound           = errors.New("schedmail: scheduled item not found")
	ErrClaimConflict      = errors.New("schedmail: item already claimed by another worker")
	ErrStatusConflict     = errors.New("schedmail: item status changed concurrently")
	ErrAlreadyDispatching = errors.New("schedmail: item is already dispatching")
	ErrNotOwned           = errors.New("schedmail: item not owned by this worker")
	ErrInvalidTransition  = errors.New("schedmail: invalid status transition")
)

// Validation errors
var (
	ErrInvalidRecurrence   = errors.New("schedmail: unknown recurrence")
	ErrInvalidScheduleTime = errors.New("schedmail: unparseable schedule time")
	ErrRecipientRequired   = errors.New("schedmail: recipient is required")
	ErrRecipientTooLong    = errors.New("schedmail: recipient too long")
	ErrRecipientInvalid    = errors.New("schedmail: recipient contains control characters")
	ErrSubjectTooLong      = errors.New("schedmail: subject too long")
	ErrBodyTooLarge        = errors.New("schedmail: body exceeds size limit")
	ErrTooManyAttachments  = errors.New("schedmail: too many attachments")
	ErrInvalidAttachment   = errors.New("schedmail: invalid attachment reference")
)

// ValidationError reports an intake field that was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid wraps err as a ValidationError for field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// PermanentError indicates a send failure that cannot succeed on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryableError indicates a transient send failure.
// A non-zero Delay overrides the engine's backoff for the next attempt.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to indicate it may succeed on a later attempt.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryableError{Err: err, Delay: d}
}
