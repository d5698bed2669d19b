package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/recurrence"
	"github.com/jdziat/simple-scheduled-mail/pkg/security"
)

// AttachmentResolver checks attachment references at intake and fills in
// their metadata (name, size, content type).
type AttachmentResolver interface {
	Resolve(ctx context.Context, attachments []core.Attachment) ([]core.Attachment, error)
}

// Queue manages intake, lookup and cancellation of scheduled items.
type Queue struct {
	store    core.Store
	resolver AttachmentResolver
	mu       sync.RWMutex

	// Hooks
	onDispatch []func(context.Context, *core.ScheduledItem)
	onSent     []func(context.Context, *core.ScheduledItem, *core.ScheduledItem)
	onFail     []func(context.Context, *core.ScheduledItem, error)
	onRetry    []func(context.Context, *core.ScheduledItem, int, error)

	// Event stream
	eventSubs []chan core.Event

	// In-process engines waiting for new items
	wakers   map[int]func(id string, due time.Time)
	nextWake int
}

// New creates a new Queue with the given store.
func New(s core.Store) *Queue {
	return &Queue{
		store:  s,
		wakers: make(map[int]func(string, time.Time)),
	}
}

// Store returns the underlying store.
func (q *Queue) Store() core.Store {
	return q.store
}

// SetAttachmentResolver sets the resolver used to check attachments at intake.
// Without one, attachments are only validated syntactically.
func (q *Queue) SetAttachmentResolver(r AttachmentResolver) {
	q.mu.Lock()
	q.resolver = r
	q.mu.Unlock()
}

// Schedule validates req and stores it as a new scheduled item.
// A schedule time in the past is accepted; the item is due immediately.
func (q *Queue) Schedule(ctx context.Context, req Request, opts ...Option) (string, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	if err := security.ValidateRecipient(req.Recipient); err != nil {
		return "", err
	}
	if err := security.ValidateSubject(req.Subject); err != nil {
		return "", err
	}
	if err := security.ValidateBody(req.Body); err != nil {
		return "", err
	}

	due := req.ScheduleTime
	if due.IsZero() {
		var err error
		if due, err = ParseScheduleTime(req.ScheduleAt); err != nil {
			return "", err
		}
	}

	kind, err := recurrence.Parse(req.Recurrence)
	if err != nil {
		return "", err
	}

	attachments, err := q.resolveAttachments(ctx, req.Attachments)
	if err != nil {
		return "", err
	}

	item := &core.ScheduledItem{
		ID:               uuid.New().String(),
		Recipient:        req.Recipient,
		Subject:          req.Subject,
		Body:             req.Body,
		ScheduleTime:     due.UTC(),
		Recurrence:       kind,
		RecurrenceDetail: req.RecurrenceDetail,
		Attachments:      attachments,
		Status:           core.StatusScheduled,
		MaxAttempts:      security.ClampAttempts(options.MaxAttempts),
	}

	id, err := q.store.Create(ctx, item)
	if err != nil {
		return "", fmt.Errorf("schedmail: failed to schedule: %w", err)
	}

	q.Emit(&core.ItemScheduled{Item: item, Timestamp: time.Now()})
	q.Wake(id, item.ScheduleTime)
	return id, nil
}

func (q *Queue) resolveAttachments(ctx context.Context, attachments []core.Attachment) ([]core.Attachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if err := security.ValidateAttachments(attachments); err != nil {
		return nil, err
	}

	q.mu.RLock()
	r := q.resolver
	q.mu.RUnlock()
	if r == nil {
		out := make([]core.Attachment, len(attachments))
		copy(out, attachments)
		return out, nil
	}

	resolved, err := r.Resolve(ctx, attachments)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, core.Invalid("attachments", fmt.Errorf("%w: %v", core.ErrInvalidAttachment, err))
	}
	return resolved, nil
}

// Get returns the item with the given id.
func (q *Queue) Get(ctx context.Context, id string) (*core.ScheduledItem, error) {
	return q.store.Get(ctx, id)
}

// List returns items matching filter, oldest schedule time first.
func (q *Queue) List(ctx context.Context, filter core.ListFilter) ([]*core.ScheduledItem, error) {
	if filter.Status != "" && !core.ValidStatus(filter.Status) {
		return nil, core.Invalid("status", fmt.Errorf("unknown status %q", filter.Status))
	}
	return q.store.List(ctx, filter)
}

// Cancel moves a scheduled item to cancelled.
//
// It returns core.ErrAlreadyDispatching when an engine holds the item's
// claim, core.ErrStatusConflict when the item is already terminal and
// core.ErrNotFound for an unknown id. A cancelled item is never sent.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	if err := q.store.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled); err != nil {
		return err
	}
	q.Emit(&core.ItemCancelled{ItemID: id, Timestamp: time.Now()})
	return nil
}

// AddWaker registers fn to be called whenever an item becomes known with
// its due time. The returned function removes the registration.
func (q *Queue) AddWaker(fn func(id string, due time.Time)) (remove func()) {
	q.mu.Lock()
	key := q.nextWake
	q.nextWake++
	q.wakers[key] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.wakers, key)
		q.mu.Unlock()
	}
}

// Wake tells every registered waker that id is due at due.
func (q *Queue) Wake(id string, due time.Time) {
	q.mu.RLock()
	fns := make([]func(string, time.Time), 0, len(q.wakers))
	for _, fn := range q.wakers {
		fns = append(fns, fn)
	}
	q.mu.RUnlock()

	for _, fn := range fns {
		fn(id, due)
	}
}

// OnDispatch registers a callback for when an item is claimed for sending.
func (q *Queue) OnDispatch(fn func(context.Context, *core.ScheduledItem)) {
	q.mu.Lock()
	q.onDispatch = append(q.onDispatch, fn)
	q.mu.Unlock()
}

// OnSent registers a callback for when an item was sent.
// next is the item's continuation, or nil when it does not recur.
func (q *Queue) OnSent(fn func(ctx context.Context, item, next *core.ScheduledItem)) {
	q.mu.Lock()
	q.onSent = append(q.onSent, fn)
	q.mu.Unlock()
}

// OnFail registers a callback for when an item fails permanently.
func (q *Queue) OnFail(fn func(context.Context, *core.ScheduledItem, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a send failed and will be retried.
func (q *Queue) OnRetry(fn func(context.Context, *core.ScheduledItem, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving scheduler events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
// After Unsubscribe returns, no further events will be sent to the channel.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full so a slow consumer never stalls dispatch
		}
	}
}

// CallDispatchHooks calls all registered dispatch hooks.
func (q *Queue) CallDispatchHooks(ctx context.Context, item *core.ScheduledItem) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.ScheduledItem), len(q.onDispatch))
	copy(hooks, q.onDispatch)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, item)
	}
}

// CallSentHooks calls all registered sent hooks.
func (q *Queue) CallSentHooks(ctx context.Context, item, next *core.ScheduledItem) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.ScheduledItem, *core.ScheduledItem), len(q.onSent))
	copy(hooks, q.onSent)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, item, next)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, item *core.ScheduledItem, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.ScheduledItem, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, item, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, item *core.ScheduledItem, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.ScheduledItem, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, item, attempt, err)
	}
}

// EngineFactory is set by the root package to create dispatch engines.
// This avoids import cycles between the queue and engine packages.
var EngineFactory func(q *Queue, n core.Notifier, opts ...any) core.Starter

// NewEngine creates a dispatch engine for this queue that sends through n.
// Options should be engine.Option values.
func (q *Queue) NewEngine(n core.Notifier, opts ...any) core.Starter {
	if EngineFactory == nil {
		panic("schedmail: EngineFactory not initialized - import github.com/jdziat/simple-scheduled-mail to initialize")
	}
	return EngineFactory(q, n, opts...)
}
