// Package core provides the domain models and interfaces for the scheduler.
package core

import (
	"time"
)

// Status represents the lifecycle state of a scheduled item.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCancelled || s == StatusFailed
}

// Recurrence is the repeat cadence of a scheduled item.
type Recurrence string

const (
	RecurrenceNone      Recurrence = "none"
	RecurrenceDaily     Recurrence = "daily"
	RecurrenceWeekly    Recurrence = "weekly"
	RecurrenceMonthly   Recurrence = "monthly"   // fixed 30 days
	RecurrenceQuarterly Recurrence = "quarterly" // fixed 90 days
)

// Attachment references content delivered alongside a message.
// URI is a file path or file:// URI resolved by the notifier at send time.
type Attachment struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ScheduledItem is one occurrence of a (possibly recurring) scheduled message.
type ScheduledItem struct {
	ID               string       `gorm:"primaryKey;size:36" json:"id"`
	Recipient        string       `gorm:"size:320;not null" json:"recipient"`
	Subject          string       `gorm:"size:998;not null" json:"subject"`
	Body             string       `gorm:"type:text;not null" json:"body"`
	ScheduleTime     time.Time    `gorm:"index;not null" json:"schedule_time"`
	Recurrence       Recurrence   `gorm:"size:20;default:'none'" json:"recurrence"`
	RecurrenceDetail string       `gorm:"size:255" json:"recurrence_detail,omitempty"`
	Attachments      []Attachment `gorm:"serializer:json" json:"attachments,omitempty"`
	Status           Status       `gorm:"index;size:20;default:'scheduled'" json:"status"`

	// Occurrence chain
	ParentID *string `gorm:"index;size:36" json:"parent_id,omitempty"`

	// Dispatch bookkeeping
	Attempt     int        `gorm:"default:0" json:"attempt"`
	MaxAttempts int        `gorm:"default:5" json:"max_attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	RetryAt     *time.Time `gorm:"index" json:"retry_at,omitempty"`
	LockedBy    string     `gorm:"size:255" json:"-"`
	LockedUntil *time.Time `gorm:"index" json:"-"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRecurring reports whether a sent item should spawn a next occurrence.
// Only the known cadences repeat.
func (i *ScheduledItem) IsRecurring() bool {
	switch i.Recurrence {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceQuarterly:
		return true
	}
	return false
}

// Claimed reports whether the item holds a live lease at now.
func (i *ScheduledItem) Claimed(now time.Time) bool {
	return i.LockedUntil != nil && !i.LockedUntil.Before(now)
}

// Message returns the payload handed to a Notifier.
func (i *ScheduledItem) Message() Message {
	attachments := make([]Attachment, len(i.Attachments))
	copy(attachments, i.Attachments)
	return Message{
		ItemID:      i.ID,
		Recipient:   i.Recipient,
		Subject:     i.Subject,
		Body:        i.Body,
		Attachments: attachments,
	}
}

// Continuation builds the next occurrence of i due at next.
// The payload, recurrence and attachments are copied verbatim.
func (i *ScheduledItem) Continuation(id string, next time.Time) *ScheduledItem {
	parent := i.ID
	attachments := make([]Attachment, len(i.Attachments))
	copy(attachments, i.Attachments)
	return &ScheduledItem{
		ID:               id,
		Recipient:        i.Recipient,
		Subject:          i.Subject,
		Body:             i.Body,
		ScheduleTime:     next.UTC(),
		Recurrence:       i.Recurrence,
		RecurrenceDetail: i.RecurrenceDetail,
		Attachments:      attachments,
		Status:           StatusScheduled,
		ParentID:         &parent,
		MaxAttempts:      i.MaxAttempts,
	}
}
