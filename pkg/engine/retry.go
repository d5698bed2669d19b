package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// RetryConfig bounds how often a store call is repeated after a transient
// failure such as a locked database or a dropped connection.
type RetryConfig struct {
	MaxAttempts       int           // including the first; default 5
	InitialBackoff    time.Duration // default 100ms
	MaxBackoff        time.Duration // default 5s; zero means uncapped
	BackoffMultiplier float64       // default 2
	JitterFraction    float64       // share of each pause randomized; default 0.1
}

// DefaultRetryConfig returns the policy used for recording outcomes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// pause returns backoff shifted by up to ±JitterFraction of itself.
func (c RetryConfig) pause(backoff time.Duration) time.Duration {
	d := backoff + time.Duration(float64(backoff)*c.JitterFraction*(rand.Float64()*2-1))
	if d < 0 {
		return backoff
	}
	return d
}

// grow returns the backoff that follows backoff.
func (c RetryConfig) grow(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * c.BackoffMultiplier)
	if c.MaxBackoff > 0 && next > c.MaxBackoff {
		return c.MaxBackoff
	}
	return next
}

// retryWithBackoff runs op at least once and repeats it while it fails with
// an error IsRetryableError accepts, up to MaxAttempts. It returns the last
// error, or ctx.Err() if ctx ends during a pause.
func retryWithBackoff(ctx context.Context, config RetryConfig, op func() error) error {
	backoff := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !IsRetryableError(err) || attempt >= config.MaxAttempts {
			return err
		}

		timer := time.NewTimer(config.pause(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = config.grow(backoff)
	}
}

// IsRetryableError reports whether a failed store call is worth repeating.
// Context errors and the store's own verdicts (lost lease, conflict, unknown
// item, invalid input) are final: a second attempt gets the same answer.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, verdict := range storeVerdicts {
		if errors.Is(err, verdict) {
			return false
		}
	}
	var ve *core.ValidationError
	return !errors.As(err, &ve)
}

var storeVerdicts = []error{
	core.ErrNotOwned,
	core.ErrNotFound,
	core.ErrClaimConflict,
	core.ErrStatusConflict,
	core.ErrAlreadyDispatching,
	core.ErrInvalidTransition,
}
