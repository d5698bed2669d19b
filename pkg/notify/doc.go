// Package notify provides core.Notifier implementations.
//
// This package includes:
//   - LogNotifier: writes each message to a slog.Logger
//   - SMTPNotifier: delivers mail through an SMTP relay
//   - AMQPNotifier: publishes messages to a RabbitMQ exchange for another service to deliver
//   - RateLimited: caps the send rate of any notifier
//   - Receipts: records sends in Redis and skips items already recorded
//   - Attachments: resolves attachment references on an afero filesystem
//
// Notifiers report failures the engine understands: a *core.PermanentError
// fails the item, anything else is retried.
package notify
