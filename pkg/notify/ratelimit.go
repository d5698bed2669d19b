package notify

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// RateLimited wraps a Notifier so that at most perSecond messages are sent
// per second, with bursts of up to burst messages.
type RateLimited struct {
	next    core.Notifier
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A burst below 1 is raised to 1.
func NewRateLimited(next core.Notifier, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token, then sends through the wrapped notifier.
func (r *RateLimited) Send(ctx context.Context, msg core.Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return core.Retryable(err)
	}
	return r.next.Send(ctx, msg)
}

var _ core.Notifier = (*RateLimited)(nil)
