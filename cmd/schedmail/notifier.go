package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jdziat/simple-scheduled-mail/internal/config"
	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/notify"
)

// buildNotifier assembles the configured transport and its wrappers:
// receipts outermost, then rate limiting, then the transport.
// The returned closers release connections the notifier holds.
func buildNotifier(ctx context.Context, cfg *config.Config, attachments *notify.Attachments, log *slog.Logger) (core.Notifier, []io.Closer, error) {
	var (
		n       core.Notifier
		closers []io.Closer
	)

	switch cfg.Notifier {
	case config.NotifierLog:
		n = notify.NewLogNotifier(log)
	case config.NotifierSMTP:
		smtp, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			UseTLS:   cfg.SMTP.UseTLS,
			SSL:      cfg.SMTP.SSL,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.DialTimeout(),
		}, attachments)
		if err != nil {
			return nil, nil, err
		}
		n = smtp
	case config.NotifierAMQP:
		amqp, err := notify.NewAMQPNotifier(notify.AMQPConfig{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		n = amqp
		closers = append(closers, amqp)
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}

	if cfg.RateLimit.PerSecond > 0 {
		n = notify.NewRateLimited(n, cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	if cfg.Redis.Addr != "" {
		client, err := notify.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, client)
		n = notify.NewReceipts(n, client, notify.WithReceiptsLogger(log))
	}

	return n, closers, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
