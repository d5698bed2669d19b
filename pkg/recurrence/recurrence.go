package recurrence

import (
	"strings"
	"time"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

const day = 24 * time.Hour

// offsets maps each recurring cadence to its fixed step.
var offsets = map[core.Recurrence]time.Duration{
	core.RecurrenceDaily:     day,
	core.RecurrenceWeekly:    7 * day,
	core.RecurrenceMonthly:   30 * day,
	core.RecurrenceQuarterly: 90 * day,
}

// Next returns the occurrence following current for the given cadence.
// For none (or the empty value) it returns current unchanged, and the caller
// must not reschedule. detail is carried for descendants and is not used here.
//
// The step is applied in UTC as an absolute duration, so a daily item stays
// exactly 24h apart across DST changes in any local zone.
func Next(current time.Time, kind core.Recurrence, detail string) time.Time {
	step, ok := offsets[kind]
	if !ok {
		return current
	}
	return current.UTC().Add(step)
}

// IsRecurring reports whether kind produces further occurrences.
func IsRecurring(kind core.Recurrence) bool {
	_, ok := offsets[kind]
	return ok
}

// Parse converts an intake string into a Recurrence.
// The empty string is none; unknown values are rejected, never defaulted.
func Parse(s string) (core.Recurrence, error) {
	kind := core.Recurrence(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case "", core.RecurrenceNone:
		return core.RecurrenceNone, nil
	case core.RecurrenceDaily, core.RecurrenceWeekly, core.RecurrenceMonthly, core.RecurrenceQuarterly:
		return kind, nil
	}
	return "", core.Invalid("recurrence", core.ErrInvalidRecurrence)
}
