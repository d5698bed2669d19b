package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/recurrence"
	"github.com/jdziat/simple-scheduled-mail/pkg/security"
)

// DefaultMaxAttempts is applied to items created without an attempt budget.
const DefaultMaxAttempts = 5

// GormStorage implements core.Store using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage is backed by SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.ScheduledItem{})
}

// Create persists a new scheduled item and returns its id.
func (s *GormStorage) Create(ctx context.Context, item *core.ScheduledItem) (string, error) {
	if err := prepare(item); err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return "", err
	}
	return item.ID, nil
}

// prepare fills defaults on an item about to be inserted.
func prepare(item *core.ScheduledItem) error {
	if item.Status == "" {
		item.Status = core.StatusScheduled
	}
	if item.Status != core.StatusScheduled {
		return fmt.Errorf("%w: new items must be %s, got %s", core.ErrInvalidTransition, core.StatusScheduled, item.Status)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	kind, err := recurrence.Parse(string(item.Recurrence))
	if err != nil {
		return err
	}
	item.Recurrence = kind
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}
	item.ScheduleTime = item.ScheduleTime.UTC()
	return nil
}

// Get retrieves an item by id.
func (s *GormStorage) Get(ctx context.Context, id string) (*core.ScheduledItem, error) {
	var item core.ScheduledItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns items ordered by schedule time.
func (s *GormStorage) List(ctx context.Context, filter core.ListFilter) ([]*core.ScheduledItem, error) {
	var items []*core.ScheduledItem
	q := s.db.WithContext(ctx).Order("schedule_time ASC, created_at ASC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ParentID != "" {
		q = q.Where("parent_id = ?", filter.ParentID)
	}
	if !filter.From.IsZero() {
		q = q.Where("schedule_time >= ?", filter.From.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	err := q.Find(&items).Error
	return items, err
}

// claimable restricts q to items that are due and not leased at now.
func claimable(q *gorm.DB, now time.Time) *gorm.DB {
	return q.
		Where("status = ?", core.StatusScheduled).
		Where("schedule_time <= ?", now).
		Where("(retry_at IS NULL OR retry_at <= ?)", now).
		Where("(locked_until IS NULL OR locked_until < ?)", now)
}

// Claim leases a single due item to workerID.
// The lease is one conditional UPDATE; a concurrent claimer that loses the
// race sees zero affected rows and gets core.ErrClaimConflict.
func (s *GormStorage) Claim(ctx context.Context, id string, now time.Time, workerID string, lease time.Duration) (*core.ScheduledItem, error) {
	now = now.UTC()
	lockUntil := now.Add(lease)

	result := claimable(s.db.WithContext(ctx).Model(&core.ScheduledItem{}).Where("id = ?", id), now).
		Updates(map[string]any{
			"locked_by":    workerID,
			"locked_until": lockUntil,
			"attempt":      gorm.Expr("attempt + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		exists, err := s.exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, core.ErrNotFound
		}
		return nil, core.ErrClaimConflict
	}
	return s.Get(ctx, id)
}

// ClaimDue leases up to limit due items to workerID, oldest schedule first.
// Items another worker claims between the scan and the update are skipped
// and their ids returned as conflicts; the scan is repeated until limit
// items are held or nothing claimable is left.
// On a storage error the items claimed so far are returned with the error.
func (s *GormStorage) ClaimDue(ctx context.Context, now time.Time, workerID string, lease time.Duration, limit int) ([]*core.ScheduledItem, []string, error) {
	now = now.UTC()

	var (
		claimed   []*core.ScheduledItem
		conflicts []string
	)
	for {
		var ids []string
		q := claimable(s.db.WithContext(ctx).Model(&core.ScheduledItem{}), now).
			Order("schedule_time ASC, created_at ASC")
		if limit > 0 {
			q = q.Limit(limit - len(claimed))
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return claimed, conflicts, err
		}

		lost := 0
		for _, id := range ids {
			item, err := s.Claim(ctx, id, now, workerID, lease)
			switch {
			case errors.Is(err, core.ErrClaimConflict):
				conflicts = append(conflicts, id)
				lost++
				continue
			case errors.Is(err, core.ErrNotFound):
				continue
			case err != nil:
				return claimed, conflicts, err
			}
			claimed = append(claimed, item)
		}

		// A lost item is no longer claimable at now, so a rescan only
		// returns items nobody has taken yet.
		if lost == 0 || limit <= 0 || len(claimed) >= limit {
			return claimed, conflicts, nil
		}
	}
}

// UpdateStatus moves an item from expected to next if it is still in expected.
// Leaving scheduled additionally requires that no worker holds a live lease,
// so a cancellation never pre-empts an in-flight dispatch.
func (s *GormStorage) UpdateStatus(ctx context.Context, id string, expected, next core.Status) error {
	if !core.CanTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, expected, next)
	}
	now := time.Now().UTC()

	updates := map[string]any{
		"status":       next,
		"locked_by":    "",
		"locked_until": nil,
	}
	if next == core.StatusSent {
		updates["sent_at"] = now
	}

	q := s.db.WithContext(ctx).Model(&core.ScheduledItem{}).
		Where("id = ? AND status = ?", id, expected)
	if expected == core.StatusScheduled {
		q = q.Where("(locked_until IS NULL OR locked_until < ?)", now)
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == expected && item.Claimed(now) {
		return core.ErrAlreadyDispatching
	}
	return core.ErrStatusConflict
}

// Complete marks an owned item sent and, in the same transaction, inserts
// its continuation when one is given. A continuation must be due strictly
// after the item it continues; otherwise nothing is written.
func (s *GormStorage) Complete(ctx context.Context, id string, workerID string, continuation *core.ScheduledItem) error {
	now := time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.ScheduledItem{}).
			Where("id = ? AND status = ? AND locked_by = ?", id, core.StatusScheduled, workerID).
			Updates(map[string]any{
				"status":       core.StatusSent,
				"sent_at":      now,
				"last_error":   "",
				"retry_at":     nil,
				"locked_by":    "",
				"locked_until": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrNotOwned
		}

		if continuation == nil {
			return nil
		}
		if err := prepare(continuation); err != nil {
			return err
		}
		var parent core.ScheduledItem
		if err := tx.Select("schedule_time").First(&parent, "id = ?", id).Error; err != nil {
			return err
		}
		if !continuation.ScheduleTime.After(parent.ScheduleTime) {
			return core.Invalid("schedule_time", fmt.Errorf("%w: continuation at %s is not after %s",
				core.ErrInvalidScheduleTime, continuation.ScheduleTime, parent.ScheduleTime.UTC()))
		}
		return tx.Create(continuation).Error
	})
}

// Release gives up an owned claim after a transient failure.
// The item stays scheduled and becomes claimable again at retryAt.
// Error messages are sanitized before storage.
func (s *GormStorage) Release(ctx context.Context, id string, workerID string, errMsg string, retryAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.ScheduledItem{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, core.StatusScheduled, workerID).
		Updates(map[string]any{
			"last_error":   security.SanitizeErrorMessage(errMsg),
			"retry_at":     retryAt.UTC(),
			"locked_by":    "",
			"locked_until": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotOwned
	}
	return nil
}

// Fail marks an owned item failed.
// Error messages are sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, id string, workerID string, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&core.ScheduledItem{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, core.StatusScheduled, workerID).
		Updates(map[string]any{
			"status":       core.StatusFailed,
			"last_error":   security.SanitizeErrorMessage(errMsg),
			"locked_by":    "",
			"locked_until": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotOwned
	}
	return nil
}

func (s *GormStorage) exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.ScheduledItem{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

var _ core.Store = (*GormStorage)(nil)
