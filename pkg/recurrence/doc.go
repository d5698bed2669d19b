// Package recurrence computes the next occurrence of a recurring item.
//
// This package includes:
//   - Next() for advancing an anchor time by a recurrence cadence
//   - Parse() for turning intake strings into a core.Recurrence
//
// Monthly and quarterly cadences are fixed offsets of 30 and 90 days, not
// calendar months. Repeated monthly sends therefore drift relative to the
// day of month; this is the established behavior and is kept on purpose.
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// which re-exports these functions.
package recurrence
