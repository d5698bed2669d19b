package notify

import (
	"context"
	"log/slog"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/itemctx"
)

// LogNotifier writes each message to a logger instead of delivering it.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs msg at info level.
func (n *LogNotifier) Send(ctx context.Context, msg core.Message) error {
	names := make([]string, len(msg.Attachments))
	for i, a := range msg.Attachments {
		names[i] = displayName(a)
	}
	n.logger.InfoContext(ctx, "message sent",
		"item_id", msg.ItemID,
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
		"attachments", names,
		"attempt", itemctx.AttemptFromContext(ctx),
	)
	return nil
}

var _ core.Notifier = (*LogNotifier)(nil)
