package core

import (
	"context"
	"time"
)

// Starter is the interface for starting dispatch engines.
type Starter interface {
	Start(ctx context.Context) error
}

// ListFilter narrows a List query. The zero value lists every item.
type ListFilter struct {
	Status   Status
	ParentID string
	From     time.Time // schedule_time >= From when set
	Limit    int
	Offset   int
}

// Store defines the persistence layer for scheduled items.
//
// Claim, ClaimDue and UpdateStatus are single conditional writes: of any
// number of concurrent callers racing on one item, at most one succeeds.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Intake and queries
	Create(ctx context.Context, item *ScheduledItem) (string, error)
	Get(ctx context.Context, id string) (*ScheduledItem, error)
	List(ctx context.Context, filter ListFilter) ([]*ScheduledItem, error)

	// Claiming
	// ClaimDue also returns the ids of due items lost to other workers.
	ClaimDue(ctx context.Context, now time.Time, workerID string, lease time.Duration, limit int) (claimed []*ScheduledItem, conflicts []string, err error)
	Claim(ctx context.Context, id string, now time.Time, workerID string, lease time.Duration) (*ScheduledItem, error)

	// State transitions
	UpdateStatus(ctx context.Context, id string, expected, next Status) error
	Complete(ctx context.Context, id string, workerID string, continuation *ScheduledItem) error
	Release(ctx context.Context, id string, workerID string, errMsg string, retryAt time.Time) error
	Fail(ctx context.Context, id string, workerID string, errMsg string) error
}
