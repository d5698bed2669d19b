package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

const testLease = time.Minute

// ──────────────────────────────────────────────────────────────────────────────
// Constructor / detection
// ──────────────────────────────────────────────────────────────────────────────

func TestNewGormStorage_IsSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := NewGormStorage(db)
	assert.True(t, s.IsSQLite(), "should detect SQLite dialect")
	assert.Same(t, db, s.DB())
}

func TestNewGormStorage_NilDB(t *testing.T) {
	s := NewGormStorage(nil)
	assert.False(t, s.IsSQLite(), "nil db should not claim SQLite")
}

// ──────────────────────────────────────────────────────────────────────────────
// Create / Get / List
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_AssignsDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	assert.NotEmpty(t, id, "ID should be auto-generated")
	assert.Equal(t, id, item.ID)
	assert.Equal(t, core.StatusScheduled, item.Status)
	assert.Equal(t, core.RecurrenceNone, item.Recurrence)
	assert.Equal(t, DefaultMaxAttempts, item.MaxAttempts)
}

func TestCreate_PreservesExistingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Now())
	item.ID = "my-custom-id"
	id, err := s.Create(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "my-custom-id", id)
}

func TestCreate_RejectsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Now())
	item.Status = core.StatusSent
	_, err := s.Create(ctx, item)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestCreate_RejectsUnknownRecurrence(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Now())
	item.Recurrence = "hourly"
	_, err := s.Create(ctx, item)
	assert.ErrorIs(t, err, core.ErrInvalidRecurrence)
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)

	items, err := s.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, items, "rejected item must not be stored")
}

func TestCreate_NormalizesRecurrence(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Now())
	item.Recurrence = " Weekly"
	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.RecurrenceWeekly, got.Recurrence)
}

func TestCreate_NormalizesScheduleTimeToUTC(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	loc := time.FixedZone("UTC+3", 3*60*60)
	due := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)
	id := createItem(t, s, due)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, due.Equal(got.ScheduleTime))
	assert.Equal(t, 9, got.ScheduleTime.UTC().Hour())
}

func TestGet_RoundTripsPayloadAndAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	item := newTestItem(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	item.Recurrence = core.RecurrenceWeekly
	item.RecurrenceDetail = "monday"
	item.Attachments = []core.Attachment{
		{URI: "/srv/reports/a.pdf", Name: "a.pdf", ContentType: "application/pdf", Size: 1024},
		{URI: "file:///srv/reports/b.csv"},
	}
	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Recipient)
	assert.Equal(t, core.RecurrenceWeekly, got.Recurrence)
	assert.Equal(t, "monday", got.RecurrenceDetail)
	assert.Equal(t, item.Attachments, got.Attachments, "attachment order and metadata preserved")
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestList_OrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	late := createItem(t, s, base.Add(2*time.Hour))
	early := createItem(t, s, base)
	mid := createItem(t, s, base.Add(time.Hour))
	require.NoError(t, s.UpdateStatus(ctx, mid, core.StatusScheduled, core.StatusCancelled))

	all, err := s.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{early, mid, late}, []string{all[0].ID, all[1].ID, all[2].ID})

	scheduled, err := s.List(ctx, core.ListFilter{Status: core.StatusScheduled})
	require.NoError(t, err)
	assert.Len(t, scheduled, 2)

	upcoming, err := s.List(ctx, core.ListFilter{From: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, mid, upcoming[0].ID)

	page, err := s.List(ctx, core.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, mid, page[0].ID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim / ClaimDue
// ──────────────────────────────────────────────────────────────────────────────

func TestClaim_LeasesDueItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	got, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.LockedBy)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.Claimed(now))
	assert.Equal(t, 1, got.Attempt, "Attempt should be incremented to 1")
	assert.Equal(t, core.StatusScheduled, got.Status, "a claim does not change status")
}

func TestClaim_SecondClaimConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)

	_, err = s.Claim(ctx, id, now, "worker-2", testLease)
	assert.ErrorIs(t, err, core.ErrClaimConflict)
}

func TestClaim_NotYetDue(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(time.Hour))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	assert.ErrorIs(t, err, core.ErrClaimConflict)
}

func TestClaim_UnknownID(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Claim(context.Background(), "missing", time.Now(), "worker-1", testLease)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClaim_ExpiredLeaseCanBeReclaimed(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)

	later := now.Add(testLease + time.Second)
	got, err := s.Claim(ctx, id, later, "worker-2", testLease)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", got.LockedBy)
	assert.Equal(t, 2, got.Attempt)
}

func TestClaim_TerminalItemConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))
	require.NoError(t, s.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	assert.ErrorIs(t, err, core.ErrClaimConflict)
}

func TestClaimDue_ReturnsOnlyDueItemsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC().Truncate(time.Second)

	second := createItem(t, s, now.Add(-time.Minute))
	first := createItem(t, s, now.Add(-time.Hour))
	createItem(t, s, now.Add(time.Hour))
	atNow := createItem(t, s, now)

	claimed, _, err := s.ClaimDue(ctx, now, "worker-1", testLease, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, first, claimed[0].ID)
	assert.Equal(t, second, claimed[1].ID)
	assert.Equal(t, atNow, claimed[2].ID, "an item due exactly now is due")
}

func TestClaimDue_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		createItem(t, s, now.Add(-time.Duration(i+1)*time.Minute))
	}

	claimed, _, err := s.ClaimDue(ctx, now, "worker-1", testLease, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	rest, _, err := s.ClaimDue(ctx, now, "worker-2", testLease, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 3, "already leased items are not returned again")
}

func TestClaimDue_SkipsRetryBackoff(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, id, "worker-1", "smtp timeout", now.Add(time.Minute)))

	claimed, _, err := s.ClaimDue(ctx, now, "worker-1", testLease, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "item in retry backoff must not be claimed")

	claimed, _, err = s.ClaimDue(ctx, now.Add(2*time.Minute), "worker-1", testLease, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempt)
}

func TestClaimDue_ConcurrentWorkersNeverShareAnItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	const numItems = 20
	for i := 0; i < numItems; i++ {
		createItem(t, s, now.Add(-time.Second))
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]int)
		lost  = make(map[string][]string)
		total atomic.Int64
		wg    sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			claimed, conflicts, err := s.ClaimDue(ctx, now, worker, testLease, numItems)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, item := range claimed {
				seen[item.ID]++
				total.Add(1)
			}
			lost[worker] = conflicts
		}("worker-" + string(rune('a'+w)))
	}
	wg.Wait()

	assert.Equal(t, int64(numItems), total.Load())
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
	for worker, ids := range lost {
		for _, id := range ids {
			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.NotEqual(t, worker, got.LockedBy, "a conflict is an item another worker holds")
		}
	}
}

func TestClaimDue_ReportsNoConflictsWhenUncontended(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		createItem(t, s, now.Add(-time.Minute))
	}

	claimed, conflicts, err := s.ClaimDue(ctx, now, "worker-1", testLease, 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 3, "a zero limit claims every due item")
	assert.Empty(t, conflicts)
}

// ──────────────────────────────────────────────────────────────────────────────
// UpdateStatus
// ──────────────────────────────────────────────────────────────────────────────

func TestUpdateStatus_CancelScheduled(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	id := createItem(t, s, time.Now().Add(time.Hour))

	require.NoError(t, s.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, got.Status)
}

func TestUpdateStatus_ClaimedItemReportsAlreadyDispatching(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)

	err = s.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled)
	assert.ErrorIs(t, err, core.ErrAlreadyDispatching)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusScheduled, got.Status, "claim wins over cancellation")
}

func TestUpdateStatus_TerminalIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	id := createItem(t, s, time.Now().Add(time.Hour))
	require.NoError(t, s.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled))

	err := s.UpdateStatus(ctx, id, core.StatusScheduled, core.StatusCancelled)
	assert.ErrorIs(t, err, core.ErrStatusConflict)
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	id := createItem(t, s, time.Now())

	err := s.UpdateStatus(ctx, id, core.StatusSent, core.StatusScheduled)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestUpdateStatus_UnknownID(t *testing.T) {
	s := newTestStorage(t)

	err := s.UpdateStatus(context.Background(), "missing", core.StatusScheduled, core.StatusCancelled)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Complete / Release / Fail
// ──────────────────────────────────────────────────────────────────────────────

func TestComplete_MarksSent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, id, "worker-1", nil))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)
}

func TestComplete_InsertsContinuationAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	item := newTestItem(anchor)
	item.Recurrence = core.RecurrenceDaily
	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, id, anchor.Add(time.Minute), "worker-1", testLease)
	require.NoError(t, err)

	next := claimed.Continuation("next-id", anchor.Add(24*time.Hour))
	require.NoError(t, s.Complete(ctx, id, "worker-1", next))

	child, err := s.Get(ctx, "next-id")
	require.NoError(t, err)
	assert.Equal(t, core.StatusScheduled, child.Status)
	assert.True(t, anchor.Add(24*time.Hour).Equal(child.ScheduleTime))
	require.NotNil(t, child.ParentID)
	assert.Equal(t, id, *child.ParentID)

	children, err := s.List(ctx, core.ListFilter{ParentID: id})
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestComplete_NotOwnedRollsBackContinuation(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)

	next := newTestItem(now.Add(24 * time.Hour))
	next.ID = "orphan"
	err = s.Complete(ctx, id, "worker-2", next)
	assert.ErrorIs(t, err, core.ErrNotOwned)

	_, err = s.Get(ctx, "orphan")
	assert.ErrorIs(t, err, core.ErrNotFound, "continuation must not be inserted when completion fails")
}

func TestComplete_RejectsContinuationNotLaterThanParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	item := newTestItem(anchor)
	item.Recurrence = core.RecurrenceDaily
	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, id, anchor, "worker-1", testLease)
	require.NoError(t, err)

	err = s.Complete(ctx, id, "worker-1", claimed.Continuation("same-instant", anchor))
	assert.ErrorIs(t, err, core.ErrInvalidScheduleTime)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusScheduled, got.Status, "completion rolls back with the continuation")
	_, err = s.Get(ctx, "same-instant")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestComplete_AfterReclaimByOtherWorkerIsNotOwned(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)
	_, err = s.Claim(ctx, id, now.Add(2*testLease), "worker-2", testLease)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(ctx, id, "worker-1", nil), core.ErrNotOwned)
	assert.NoError(t, s.Complete(ctx, id, "worker-2", nil))
}

func TestRelease_KeepsScheduledAndRecordsError(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)

	retryAt := now.Add(30 * time.Second)
	require.NoError(t, s.Release(ctx, id, "worker-1", "421 try again\x00later", retryAt))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusScheduled, got.Status)
	assert.Equal(t, "421 try againlater", got.LastError, "error message is sanitized")
	require.NotNil(t, got.RetryAt)
	assert.True(t, retryAt.Sub(*got.RetryAt).Abs() < time.Millisecond)
	assert.Empty(t, got.LockedBy)
}

func TestRelease_NotOwned(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	id := createItem(t, s, time.Now().Add(-time.Minute))

	err := s.Release(ctx, id, "worker-1", "boom", time.Now())
	assert.ErrorIs(t, err, core.ErrNotOwned)
}

func TestFail_MarksFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	id := createItem(t, s, now.Add(-time.Minute))

	_, err := s.Claim(ctx, id, now, "worker-1", testLease)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, id, "worker-1", strings.Repeat("x", 5000)))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.True(t, strings.HasSuffix(got.LastError, "..."))

	assert.ErrorIs(t, s.Fail(ctx, id, "worker-1", "again"), core.ErrNotOwned, "no transition out of failed")
}
