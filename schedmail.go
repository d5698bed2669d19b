// Package schedmail schedules messages for delivery at a future instant,
// optionally repeating on a fixed cadence, and dispatches each occurrence
// exactly once across any number of engines sharing one database.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and queue
//	db, _ := schedmail.Open("emails.db")
//	store := schedmail.NewGormStorage(db)
//	store.Migrate(context.Background())
//	queue := schedmail.New(store)
//
//	// Schedule a weekly message
//	queue.Schedule(ctx, schedmail.Request{
//	    Recipient:    "user@example.com",
//	    Subject:      "Weekly report",
//	    Body:         "...",
//	    ScheduleTime: time.Now().Add(time.Hour),
//	    Recurrence:   "weekly",
//	})
//
//	// Start an engine
//	engine := schedmail.NewEngine(queue, schedmail.NewLogNotifier(nil))
//	engine.Start(ctx)
package schedmail

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/engine"
	"github.com/jdziat/simple-scheduled-mail/pkg/itemctx"
	"github.com/jdziat/simple-scheduled-mail/pkg/notify"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
	"github.com/jdziat/simple-scheduled-mail/pkg/recurrence"
	"github.com/jdziat/simple-scheduled-mail/pkg/security"
	"github.com/jdziat/simple-scheduled-mail/pkg/storage"
)

func init() {
	// Register the engine factory to enable queue.NewEngine()
	queue.EngineFactory = func(q *queue.Queue, n core.Notifier, opts ...any) core.Starter {
		engineOpts := make([]engine.Option, 0, len(opts))
		for _, opt := range opts {
			if eo, ok := opt.(engine.Option); ok {
				engineOpts = append(engineOpts, eo)
			}
		}
		return engine.New(q, n, engineOpts...)
	}
}

// Type aliases
type (
	// ScheduledItem is one occurrence of a (possibly recurring) message.
	ScheduledItem = core.ScheduledItem

	// Status represents the lifecycle state of an item.
	Status = core.Status

	// Recurrence is the repeat cadence of an item.
	Recurrence = core.Recurrence

	// Attachment references content delivered alongside a message.
	Attachment = core.Attachment

	// Message is the payload handed to a Notifier.
	Message = core.Message

	// Notifier delivers messages.
	Notifier = core.Notifier

	// NotifierFunc adapts a function to Notifier.
	NotifierFunc = core.NotifierFunc

	// Store defines the persistence layer for items.
	Store = core.Store

	// ListFilter narrows a List query.
	ListFilter = core.ListFilter

	// Event is the interface for all scheduler events.
	Event = core.Event

	ItemScheduled   = core.ItemScheduled
	ItemDispatching = core.ItemDispatching
	ItemSent        = core.ItemSent
	ItemRetrying    = core.ItemRetrying
	ItemFailed      = core.ItemFailed
	ItemCancelled   = core.ItemCancelled
	ClaimConflict   = core.ClaimConflict

	// ValidationError reports a rejected intake field.
	ValidationError = core.ValidationError

	// PermanentError marks a send failure that must not be retried.
	PermanentError = core.PermanentError

	// RetryableError marks a transient send failure.
	RetryableError = core.RetryableError

	// Queue handles intake, lookup and cancellation.
	Queue = queue.Queue

	// Request is an intake request.
	Request = queue.Request

	// Option modifies scheduling Options.
	Option = queue.Option

	// Engine dispatches due items.
	Engine = engine.Engine

	// EngineOption configures an Engine.
	EngineOption = engine.Option

	// EngineConfig holds engine configuration.
	EngineConfig = engine.Config

	// TickResult summarizes one dispatch round.
	TickResult = engine.TickResult

	// Outcome is the result of dispatching one item.
	Outcome = engine.Outcome

	// GormStorage implements Store using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusScheduled = core.StatusScheduled
	StatusSent      = core.StatusSent
	StatusCancelled = core.StatusCancelled
	StatusFailed    = core.StatusFailed
)

// Recurrence constants
const (
	RecurrenceNone      = core.RecurrenceNone
	RecurrenceDaily     = core.RecurrenceDaily
	RecurrenceWeekly    = core.RecurrenceWeekly
	RecurrenceMonthly   = core.RecurrenceMonthly
	RecurrenceQuarterly = core.RecurrenceQuarterly
)

// Dispatch outcomes
const (
	OutcomeSent    = engine.OutcomeSent
	OutcomeRetried = engine.OutcomeRetried
	OutcomeFailed  = engine.OutcomeFailed
	OutcomeLost    = engine.OutcomeLost
)

// Security limits
const (
	MaxRecipientLength    = security.MaxRecipientLength
	MaxSubjectLength      = security.MaxSubjectLength
	MaxBodySize           = security.MaxBodySize
	MaxAttachments        = security.MaxAttachments
	MaxAttempts           = security.MaxAttempts
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrNotFound            = core.ErrNotFound
	ErrClaimConflict       = core.ErrClaimConflict
	ErrStatusConflict      = core.ErrStatusConflict
	ErrAlreadyDispatching  = core.ErrAlreadyDispatching
	ErrNotOwned            = core.ErrNotOwned
	ErrInvalidTransition   = core.ErrInvalidTransition
	ErrInvalidRecurrence   = core.ErrInvalidRecurrence
	ErrInvalidScheduleTime = core.ErrInvalidScheduleTime
	ErrRecipientRequired   = core.ErrRecipientRequired
	ErrInvalidAttachment   = core.ErrInvalidAttachment
)

// New creates a new Queue with the given store.
func New(s Store) *Queue {
	return queue.New(s)
}

// Open connects to a SQLite path or PostgreSQL DSN with GORM logging silenced.
func Open(dsn string, opts ...storage.PoolOption) (*gorm.DB, error) {
	return storage.Open(dsn, logger.Silent, opts...)
}

// NewGormStorage creates a new GORM-backed store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewEngine creates a dispatch engine for q that sends through n.
func NewEngine(q *Queue, n Notifier, opts ...EngineOption) *Engine {
	return engine.New(q, n, opts...)
}

// NewLogNotifier creates a notifier that only logs. A nil logger means slog.Default().
var NewLogNotifier = notify.NewLogNotifier

// Permanent marks err as a send failure that must not be retried.
func Permanent(err error) error {
	return core.Permanent(err)
}

// Retryable marks err as a transient send failure.
func Retryable(err error) error {
	return core.Retryable(err)
}

// RetryAfter marks err as transient and asks for a retry no sooner than d.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	return core.IsPermanent(err)
}

// ParseScheduleTime parses an intake timestamp.
func ParseScheduleTime(s string) (time.Time, error) {
	return queue.ParseScheduleTime(s)
}

// ParseRecurrence parses a recurrence name, case-insensitively.
func ParseRecurrence(s string) (Recurrence, error) {
	return recurrence.Parse(s)
}

// NextOccurrence returns the due time of the occurrence after one due at current.
func NextOccurrence(current time.Time, kind Recurrence, detail string) time.Time {
	return recurrence.Next(current, kind, detail)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// Scheduling options

// Attempts sets the maximum dispatch attempts of an item.
func Attempts(n int) Option {
	return queue.Attempts(n)
}

// Engine option functions

// WorkerID sets the engine's lease owner id.
func WorkerID(id string) EngineOption {
	return engine.WorkerID(id)
}

// Concurrency sets how many sends run in parallel.
func Concurrency(n int) EngineOption {
	return engine.Concurrency(n)
}

// BatchSize sets how many items one round claims.
func BatchSize(n int) EngineOption {
	return engine.BatchSize(n)
}

// PollInterval sets the poll period of the run loop.
func PollInterval(d time.Duration) EngineOption {
	return engine.PollInterval(d)
}

// TickSchedule drives the poll from a cron spec such as "@every 5s".
func TickSchedule(spec string) EngineOption {
	return engine.TickSchedule(spec)
}

// DispatchTimeout bounds a single send.
func DispatchTimeout(d time.Duration) EngineOption {
	return engine.DispatchTimeout(d)
}

// Backoff sets the base and cap of the retry backoff.
func Backoff(base, max time.Duration) EngineOption {
	return engine.Backoff(base, max)
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return engine.WithLogger(l)
}

// ItemFromContext returns the item being dispatched, or nil outside a dispatch.
// Notifiers and hooks can use it for the item ID or attempt number.
func ItemFromContext(ctx context.Context) *ScheduledItem {
	return itemctx.ItemFromContext(ctx)
}

// ItemIDFromContext returns the id of the item being dispatched, or empty string outside a dispatch.
func ItemIDFromContext(ctx context.Context) string {
	return itemctx.ItemIDFromContext(ctx)
}
