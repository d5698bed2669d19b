// Package engine provides the Engine that dispatches due scheduled items.
//
// This package includes:
//   - Engine: claims due items, sends them through a core.Notifier and
//     records the outcome, spawning the next occurrence of recurring items
//   - Tick: one synchronous dispatch round, for callers that own the clock
//   - Start: the run loop, driven by a poll interval or cron spec plus a
//     delay queue of known due times
//   - Option: configuration of concurrency, timeouts, leases and retries
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// which creates engines through queue.NewEngine().
package engine
