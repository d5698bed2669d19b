// Package itemctx gives notifiers and hooks access to the item being dispatched.
package itemctx

import (
	"context"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

type dispatchKey struct{}

// Dispatch describes the claim a send runs under.
type Dispatch struct {
	Item     *core.ScheduledItem
	WorkerID string
}

// WithDispatch returns a context carrying item and the worker holding its claim.
func WithDispatch(ctx context.Context, item *core.ScheduledItem, workerID string) context.Context {
	return context.WithValue(ctx, dispatchKey{}, &Dispatch{Item: item, WorkerID: workerID})
}

// ItemFromContext returns the item being dispatched, or nil outside a dispatch.
// Use this to get the item ID or attempt number for logging.
func ItemFromContext(ctx context.Context) *core.ScheduledItem {
	if d, ok := ctx.Value(dispatchKey{}).(*Dispatch); ok {
		return d.Item
	}
	return nil
}

// ItemIDFromContext returns the id of the item being dispatched, or empty string outside a dispatch.
func ItemIDFromContext(ctx context.Context) string {
	item := ItemFromContext(ctx)
	if item == nil {
		return ""
	}
	return item.ID
}

// WorkerIDFromContext returns the worker holding the claim, or empty string outside a dispatch.
func WorkerIDFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchKey{}).(*Dispatch); ok {
		return d.WorkerID
	}
	return ""
}

// AttemptFromContext returns the attempt number of the current dispatch, or 0 outside one.
func AttemptFromContext(ctx context.Context) int {
	item := ItemFromContext(ctx)
	if item == nil {
		return 0
	}
	return item.Attempt
}
