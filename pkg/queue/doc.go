// Package queue provides the Queue type, the intake and query API of the scheduler.
//
// This package includes:
//   - Queue: validates and stores scheduled items, looks them up, cancels them
//   - Request and Option: intake payload and per-request options
//   - Hook registration for dispatch lifecycle callbacks
//   - Event subscription for monitoring
//   - Wakers that let in-process engines react to new items immediately
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// which re-exports Queue and all option functions.
package queue
