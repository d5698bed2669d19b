package core

import "time"

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// ItemScheduled is emitted when an item is created, either at intake
// or as the continuation of a recurring item.
type ItemScheduled struct {
	Item      *ScheduledItem
	Timestamp time.Time
}

func (*ItemScheduled) eventMarker() {}

// ItemDispatching is emitted after an item is claimed, before the send.
type ItemDispatching struct {
	Item      *ScheduledItem
	WorkerID  string
	Timestamp time.Time
}

func (*ItemDispatching) eventMarker() {}

// ItemSent is emitted when the notifier succeeded and the item is sent.
type ItemSent struct {
	Item      *ScheduledItem
	Next      *ScheduledItem // nil unless recurring
	Duration  time.Duration
	Timestamp time.Time
}

func (*ItemSent) eventMarker() {}

// ItemRetrying is emitted when a transient failure released the claim.
type ItemRetrying struct {
	Item      *ScheduledItem
	Attempt   int
	Error     error
	RetryAt   time.Time
	Timestamp time.Time
}

func (*ItemRetrying) eventMarker() {}

// ItemFailed is emitted when an item moves to failed.
type ItemFailed struct {
	Item      *ScheduledItem
	Error     error
	Timestamp time.Time
}

func (*ItemFailed) eventMarker() {}

// ItemCancelled is emitted when a cancellation request succeeded.
type ItemCancelled struct {
	ItemID    string
	Timestamp time.Time
}

func (*ItemCancelled) eventMarker() {}

// ClaimConflict is emitted when another worker won the claim on an item.
type ClaimConflict struct {
	ItemID    string
	WorkerID  string
	Timestamp time.Time
}

func (*ClaimConflict) eventMarker() {}
