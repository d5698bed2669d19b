package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/security"
)

// Request is an intake request for one scheduled message.
//
// ScheduleTime wins when set; otherwise ScheduleAt is parsed with
// ParseScheduleTime. Recurrence is parsed case-insensitively and an
// empty value means the message is sent once.
type Request struct {
	Recipient        string            `json:"recipient"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	ScheduleTime     time.Time         `json:"-"`
	ScheduleAt       string            `json:"schedule_time"`
	Recurrence       string            `json:"recurrence,omitempty"`
	RecurrenceDetail string            `json:"recurrence_detail,omitempty"`
	Attachments      []core.Attachment `json:"attachments,omitempty"`
}

// Options holds per-request intake configuration.
type Options struct {
	MaxAttempts int
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Attempts sets how many dispatch attempts an item gets before it fails.
// Values are clamped to [1, MaxAttempts] (100).
func Attempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}

// DefaultMaxAttempts is the attempt budget of an item scheduled without Attempts.
var DefaultMaxAttempts = 5

// scheduleLayouts are tried in order by ParseScheduleTime. The first is the
// zone-less layout of the original intake API and is read as UTC.
var scheduleLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseScheduleTime parses an intake timestamp into a UTC instant.
func ParseScheduleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, core.Invalid("schedule_time", fmt.Errorf("%w: %q", core.ErrInvalidScheduleTime, s))
}
