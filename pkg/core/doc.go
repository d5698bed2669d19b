// Package core provides the fundamental types and interfaces for the scheduler.
//
// This package contains:
//   - ScheduledItem and Attachment data models with GORM annotations
//   - Store and Notifier interfaces consumed by the dispatch engine
//   - The status transition table
//   - Event types for monitoring
//   - Error types for intake validation and dispatch classification
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// instead of this package directly.
package core
