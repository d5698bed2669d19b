package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/itemctx"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
	"github.com/jdziat/simple-scheduled-mail/pkg/recurrence"
)

// maxSleep caps how long the run loop sleeps on the delay queue.
const maxSleep = time.Minute

// Outcome is the result of dispatching one claimed item.
type Outcome int

const (
	OutcomeSent    Outcome = iota // sent; continuation stored if recurring
	OutcomeRetried                // transient failure, claim released
	OutcomeFailed                 // permanent failure or attempts exhausted
	OutcomeLost                   // the claim was lost before the outcome was recorded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetried:
		return "retried"
	case OutcomeFailed:
		return "failed"
	case OutcomeLost:
		return "lost"
	}
	return "unknown"
}

// TickResult summarizes one dispatch round.
type TickResult struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
	Lost    int
}

func (r *TickResult) add(o Outcome) {
	switch o {
	case OutcomeSent:
		r.Sent++
	case OutcomeRetried:
		r.Retried++
	case OutcomeFailed:
		r.Failed++
	case OutcomeLost:
		r.Lost++
	}
}

// Engine claims due items and sends them through a Notifier.
// Several engines, in one process or many, may share a store.
type Engine struct {
	queue    *queue.Queue
	notifier core.Notifier
	config   Config
	logger   *slog.Logger
	delay    *delayQueue
	wake     chan struct{}
	running  sync.Mutex
	claiming sync.Mutex
}

// New creates a new engine for the given queue.
func New(q *queue.Queue, n core.Notifier, opts ...Option) *Engine {
	config := Config{
		WorkerID:        uuid.New().String(),
		Concurrency:     DefaultConcurrency,
		BatchSize:       DefaultBatchSize,
		PollInterval:    DefaultPollInterval,
		DispatchTimeout: DefaultDispatchTimeout,
		BaseBackoff:     DefaultBaseBackoff,
		MaxBackoff:      DefaultMaxBackoff,
		Clock:           time.Now,
	}

	for _, opt := range opts {
		opt.ApplyEngine(&config)
	}

	if config.Lease <= config.DispatchTimeout {
		config.Lease = config.DispatchTimeout + DefaultLeaseMargin
	}
	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.ClaimRetry == nil {
		// Use longer backoff for claiming to avoid hammering the DB during outages
		claimCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.ClaimRetry = &claimCfg
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		queue:    q,
		notifier: n,
		config:   config,
		logger:   logger.With("worker_id", config.WorkerID),
		delay:    newDelayQueue(),
		wake:     make(chan struct{}, 1),
	}
}

// WorkerID returns the identity this engine claims items under.
func (e *Engine) WorkerID() string {
	return e.config.WorkerID
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Start runs the dispatch loop until ctx is cancelled.
//
// A round runs at start, on every poll tick (or cron firing) and whenever a
// known due time from the delay queue arrives. Items scheduled through the
// queue and continuations of recurring items feed the delay queue, so they
// are sent on time even with a long poll interval.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.TryLock() {
		return errors.New("schedmail: engine already running")
	}
	defer e.running.Unlock()

	remove := e.queue.AddWaker(e.schedule)
	defer remove()

	ticks, stop, err := e.trigger()
	if err != nil {
		return err
	}
	defer stop()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		next, ok := e.delay.Next()
		if !ok {
			return nil
		}
		dur := next.Sub(e.config.Clock())
		if dur > maxSleep {
			dur = maxSleep
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	e.prime(ctx)

	e.logger.Info("engine started",
		"concurrency", e.config.Concurrency,
		"poll_interval", e.config.PollInterval,
		"tick_schedule", e.config.TickSchedule,
		"lease", e.config.Lease,
	)

	for {
		roundStart := e.config.Clock()
		e.runRounds(ctx)
		e.delay.PopDue(roundStart)

		if !e.wait(ctx, ticks, resetTimer) {
			e.logger.Info("engine stopped")
			return ctx.Err()
		}
	}
}

// wait blocks until the next round is due: a poll tick, the earliest known
// due time, or a wake-up for an item that is already due.
// It returns false when ctx is done.
func (e *Engine) wait(ctx context.Context, ticks <-chan struct{}, resetTimer func() <-chan time.Time) bool {
	for {
		timerCh := resetTimer()
		select {
		case <-ctx.Done():
			return false
		case <-ticks:
			return true
		case <-timerCh:
			return true
		case <-e.wake:
			if next, ok := e.delay.Next(); ok && !next.After(e.config.Clock()) {
				return true
			}
		}
	}
}

// trigger returns the channel that fires poll rounds.
func (e *Engine) trigger() (<-chan struct{}, func(), error) {
	ticks := make(chan struct{}, 1)
	fire := func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}

	if e.config.TickSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(e.config.TickSchedule, fire); err != nil {
			return nil, nil, fmt.Errorf("schedmail: invalid tick schedule %q: %w", e.config.TickSchedule, err)
		}
		c.Start()
		return ticks, func() { <-c.Stop().Done() }, nil
	}

	ticker := time.NewTicker(e.config.PollInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
	return ticks, func() { ticker.Stop(); close(done) }, nil
}

// prime loads the next upcoming items into the delay queue, so items
// stored before Start are sent on time without waiting for a poll.
func (e *Engine) prime(ctx context.Context) {
	items, err := e.queue.List(ctx, core.ListFilter{
		Status: core.StatusScheduled,
		From:   e.config.Clock(),
		Limit:  e.config.BatchSize,
	})
	if err != nil {
		e.logger.Warn("failed to load upcoming items", "error", err)
		return
	}
	for _, item := range items {
		e.delay.Push(Job{ItemID: item.ID, DueAt: item.ScheduleTime})
	}
}

// schedule records a known due time and wakes the run loop.
func (e *Engine) schedule(id string, due time.Time) {
	e.delay.Push(Job{ItemID: id, DueAt: due})
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// runRounds ticks until a round claims less than a full batch.
func (e *Engine) runRounds(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := e.Tick(ctx, e.config.Clock())
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("dispatch round failed", "error", err)
		}
		if res.Claimed > 0 {
			e.logger.Debug("dispatch round",
				"claimed", res.Claimed, "sent", res.Sent,
				"retried", res.Retried, "failed", res.Failed, "lost", res.Lost)
		}
		if err != nil || res.Claimed < e.config.BatchSize {
			return
		}
	}
}

// Tick runs one dispatch round at now: it sends up to BatchSize due items,
// at most Concurrency at a time, returning once every outcome is recorded.
//
// An item is claimed only once a send slot is free for it, so its lease
// runs from the start of its own send. A store error stops further claims;
// items already claimed still finish and the error is returned with them.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var (
		mu       sync.Mutex
		res      TickResult
		claimErr error
		drained  bool
		g        errgroup.Group
	)
	g.SetLimit(e.config.Concurrency)

	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drained || claimErr != nil
	}

	for i := 0; i < e.config.BatchSize && ctx.Err() == nil && !stopped(); i++ {
		g.Go(func() error {
			// Claims from one engine are serialized so its own slots never
			// contend for a row, and none claims after the round has stopped.
			e.claiming.Lock()
			if stopped() {
				e.claiming.Unlock()
				return nil
			}
			item, claimedAt, err := e.claimNext(ctx, now)
			mu.Lock()
			switch {
			case err != nil:
				claimErr = err
			case item == nil:
				drained = true
			default:
				res.Claimed++
			}
			mu.Unlock()
			e.claiming.Unlock()

			if item == nil {
				return nil
			}

			outcome := e.dispatchSafely(ctx, item, now, claimedAt)
			mu.Lock()
			res.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return res, claimErr
}

// claimNext leases the next due item to this engine, or returns nil when
// nothing is due. The returned time is taken just before the winning claim
// and bounds when the lease started. Callers hold e.claiming.
func (e *Engine) claimNext(ctx context.Context, now time.Time) (*core.ScheduledItem, time.Time, error) {
	var (
		item      *core.ScheduledItem
		claimedAt time.Time
	)
	err := retryWithBackoff(ctx, *e.config.ClaimRetry, func() error {
		start := time.Now()
		batch, conflicts, err := e.queue.Store().ClaimDue(ctx, now, e.config.WorkerID, e.config.Lease, 1)
		e.emitConflicts(conflicts)
		if len(batch) > 0 {
			item, claimedAt = batch[0], start
			return nil
		}
		return err
	})
	if err != nil && item == nil {
		return nil, time.Time{}, fmt.Errorf("schedmail: claim due items: %w", err)
	}
	return item, claimedAt, nil
}

func (e *Engine) emitConflicts(ids []string) {
	for _, id := range ids {
		e.logger.Debug("claim lost to another worker", "item_id", id)
		e.queue.Emit(&core.ClaimConflict{ItemID: id, WorkerID: e.config.WorkerID, Timestamp: time.Now()})
	}
}

// DispatchOne claims the item with the given id and dispatches it at now.
// It returns core.ErrClaimConflict if the item is not due or another
// worker holds it.
func (e *Engine) DispatchOne(ctx context.Context, id string, now time.Time) (Outcome, error) {
	claimedAt := time.Now()
	item, err := e.queue.Store().Claim(ctx, id, now, e.config.WorkerID, e.config.Lease)
	if err != nil {
		if errors.Is(err, core.ErrClaimConflict) {
			e.emitConflicts([]string{id})
		}
		return OutcomeLost, err
	}
	return e.dispatchSafely(ctx, item, now, claimedAt), nil
}

// dispatchSafely isolates one item: a panic in a hook or the notifier
// is recorded as a transient failure of that item only.
func (e *Engine) dispatchSafely(ctx context.Context, item *core.ScheduledItem, now, claimedAt time.Time) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during dispatch", "item_id", item.ID, "panic", r)
			outcome = e.handleError(ctx, item, now, fmt.Errorf("panic: %v", r))
		}
	}()
	return e.dispatch(ctx, item, now, claimedAt)
}

func (e *Engine) dispatch(ctx context.Context, item *core.ScheduledItem, now, claimedAt time.Time) Outcome {
	startTime := time.Now()
	ctx = itemctx.WithDispatch(ctx, item, e.config.WorkerID)

	e.queue.CallDispatchHooks(ctx, item)

	// The send must end inside the lease; past it another worker may
	// already hold the item. It is left to expire and be claimed again.
	if remaining := e.config.Lease - time.Since(claimedAt); remaining < e.config.DispatchTimeout {
		e.logger.Warn("lease too short to send, leaving item for a later claim",
			"item_id", item.ID, "lease_remaining", remaining)
		return OutcomeLost
	}

	e.queue.Emit(&core.ItemDispatching{Item: item, WorkerID: e.config.WorkerID, Timestamp: startTime})

	if err := e.send(ctx, item); err != nil {
		return e.handleError(ctx, item, now, err)
	}
	return e.complete(ctx, item, startTime)
}

// send delivers the item's message under DispatchTimeout. A notifier that
// ignores its context is abandoned when the timeout fires.
func (e *Engine) send(ctx context.Context, item *core.ScheduledItem) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.config.DispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- e.notifier.Send(sendCtx, item.Message())
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return core.Retryable(fmt.Errorf("dispatch timed out after %v: %w", e.config.DispatchTimeout, err))
		}
		return err
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.Retryable(fmt.Errorf("dispatch timed out after %v", e.config.DispatchTimeout))
	}
}

// complete records a successful send and stores the continuation of a
// recurring item in the same transaction.
func (e *Engine) complete(ctx context.Context, item *core.ScheduledItem, startTime time.Time) Outcome {
	var next *core.ScheduledItem
	if recurrence.IsRecurring(item.Recurrence) {
		at := recurrence.Next(item.ScheduleTime, item.Recurrence, item.RecurrenceDetail)
		if at.After(item.ScheduleTime) {
			next = item.Continuation(uuid.New().String(), at)
		} else {
			e.logger.Error("next occurrence is not after the current one; not rescheduling",
				"item_id", item.ID, "recurrence", item.Recurrence, "schedule_time", item.ScheduleTime)
		}
	}

	// Outcomes are recorded even while shutting down.
	storeCtx := context.WithoutCancel(ctx)
	err := retryWithBackoff(storeCtx, *e.config.StorageRetry, func() error {
		return e.queue.Store().Complete(storeCtx, item.ID, e.config.WorkerID, next)
	})
	if err != nil {
		// The message went out but the item is still scheduled; it is sent
		// again once the lease expires.
		e.logger.Error("failed to complete item after send", "item_id", item.ID, "error", err)
		return OutcomeLost
	}

	item.Status = core.StatusSent
	e.queue.CallSentHooks(ctx, item, next)
	e.queue.Emit(&core.ItemSent{Item: item, Next: next, Duration: time.Since(startTime), Timestamp: time.Now()})

	if next != nil {
		e.queue.Emit(&core.ItemScheduled{Item: next, Timestamp: time.Now()})
		e.queue.Wake(next.ID, next.ScheduleTime)
		e.logger.Debug("scheduled next occurrence", "item_id", item.ID, "next_id", next.ID, "schedule_time", next.ScheduleTime)
	}
	return OutcomeSent
}

func (e *Engine) handleError(ctx context.Context, item *core.ScheduledItem, now time.Time, err error) Outcome {
	storeCtx := context.WithoutCancel(ctx)

	// Shutting down mid-send: hand the item back without waiting out a backoff.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if relErr := e.releaseWithRetry(storeCtx, item.ID, err.Error(), now); relErr != nil {
			e.logger.Warn("failed to release item on shutdown", "item_id", item.ID, "error", relErr)
			return OutcomeLost
		}
		return OutcomeRetried
	}

	if core.IsPermanent(err) || item.Attempt >= item.MaxAttempts {
		if !core.IsPermanent(err) {
			err = fmt.Errorf("giving up after %d attempts: %w", item.Attempt, err)
		}
		if failErr := e.failWithRetry(storeCtx, item.ID, err.Error()); failErr != nil {
			e.logger.Error("failed to mark item as failed after retries", "item_id", item.ID, "error", failErr)
			return OutcomeLost
		}
		item.Status = core.StatusFailed
		item.LastError = err.Error()
		e.logger.Warn("item failed", "item_id", item.ID, "attempt", item.Attempt, "error", err)
		e.queue.CallFailHooks(ctx, item, err)
		e.queue.Emit(&core.ItemFailed{Item: item, Error: err, Timestamp: time.Now()})
		return OutcomeFailed
	}

	retryAt := now.Add(e.calculateBackoff(item.Attempt))
	var retryable *core.RetryableError
	if errors.As(err, &retryable) && retryable.Delay > 0 {
		retryAt = now.Add(retryable.Delay)
	}

	if relErr := e.releaseWithRetry(storeCtx, item.ID, err.Error(), retryAt); relErr != nil {
		e.logger.Error("failed to release item after retries", "item_id", item.ID, "error", relErr)
		return OutcomeLost
	}
	item.LastError = err.Error()
	item.RetryAt = &retryAt
	e.logger.Info("send failed, will retry", "item_id", item.ID, "attempt", item.Attempt, "retry_at", retryAt, "error", err)
	e.queue.CallRetryHooks(ctx, item, item.Attempt, err)
	e.queue.Emit(&core.ItemRetrying{Item: item, Attempt: item.Attempt, Error: err, RetryAt: retryAt, Timestamp: time.Now()})
	e.schedule(item.ID, retryAt)
	return OutcomeRetried
}

// releaseWithRetry gives the claim back with retry on transient storage failures.
func (e *Engine) releaseWithRetry(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	return retryWithBackoff(ctx, *e.config.StorageRetry, func() error {
		return e.queue.Store().Release(ctx, id, e.config.WorkerID, errMsg, retryAt)
	})
}

// failWithRetry marks an item failed with retry on transient storage failures.
func (e *Engine) failWithRetry(ctx context.Context, id, errMsg string) error {
	return retryWithBackoff(ctx, *e.config.StorageRetry, func() error {
		return e.queue.Store().Fail(ctx, id, e.config.WorkerID, errMsg)
	})
}

// calculateBackoff doubles BaseBackoff per attempt, capped at MaxBackoff.
func (e *Engine) calculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := e.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= e.config.MaxBackoff {
			return e.config.MaxBackoff
		}
	}
	if backoff > e.config.MaxBackoff {
		backoff = e.config.MaxBackoff
	}
	return backoff
}
