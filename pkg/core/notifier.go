package core

import "context"

// Message is the payload of one dispatch.
type Message struct {
	ItemID      string
	Recipient   string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Notifier delivers a message through some transport.
//
// Send returns nil on success. A *PermanentError marks the item failed
// without retry; any other error is treated as transient.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg).
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
