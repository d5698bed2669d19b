package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPermanentError(t *testing.T) {
	originalErr := errors.New("mailbox does not exist")
	wrapped := Permanent(originalErr)

	var permErr *PermanentError
	assert.True(t, errors.As(wrapped, &permErr))
	assert.Equal(t, originalErr, permErr.Unwrap())
	assert.Contains(t, permErr.Error(), "permanent")
	assert.Contains(t, permErr.Error(), "mailbox does not exist")
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("bad address"))))
	assert.True(t, IsPermanent(fmt.Errorf("send: %w", Permanent(errors.New("bad address")))))
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.False(t, IsPermanent(Retryable(errors.New("connection reset"))))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
	assert.False(t, IsPermanent(nil))
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("temporary failure")
	wrapped := Retryable(originalErr)

	var retryErr *RetryableError
	assert.True(t, errors.As(wrapped, &retryErr))
	assert.Equal(t, originalErr, retryErr.Unwrap())
	assert.Zero(t, retryErr.Delay)
	assert.Contains(t, retryErr.Error(), "retryable")
}

func TestRetryAfterError(t *testing.T) {
	originalErr := errors.New("rate limited")
	delay := 5 * time.Second
	wrapped := RetryAfter(delay, originalErr)

	var retryErr *RetryableError
	assert.True(t, errors.As(wrapped, &retryErr))
	assert.Equal(t, delay, retryErr.Delay)
	assert.Contains(t, retryErr.Error(), "retry after")
	assert.Contains(t, retryErr.Error(), "5s")
}

func TestValidationError(t *testing.T) {
	err := Invalid("recurrence", ErrInvalidRecurrence)

	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, "recurrence", vErr.Field)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
	assert.Contains(t, err.Error(), "invalid recurrence")
}

func TestErrorVariables(t *testing.T) {
	assert.Contains(t, ErrNotFound.Error(), "not found")
	assert.Contains(t, ErrClaimConflict.Error(), "already claimed")
	assert.Contains(t, ErrAlreadyDispatching.Error(), "already dispatching")
	assert.Contains(t, ErrNotOwned.Error(), "not owned")
	assert.Contains(t, ErrInvalidScheduleTime.Error(), "schedule time")
}
