package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	UseTLS   bool // STARTTLS required when true, plain otherwise
	SSL      bool // implicit TLS (usually port 465)
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier delivers messages through an SMTP relay.
type SMTPNotifier struct {
	config      SMTPConfig
	attachments *Attachments
}

// NewSMTPNotifier creates an SMTPNotifier. Attachments are read through
// attachments; nil means the OS filesystem.
func NewSMTPNotifier(config SMTPConfig, attachments *Attachments) (*SMTPNotifier, error) {
	if config.Host == "" {
		return nil, errors.New("schedmail: smtp host is required")
	}
	if config.From == "" {
		config.From = config.Username
	}
	if config.From == "" {
		return nil, errors.New("schedmail: smtp sender address is required")
	}
	if attachments == nil {
		attachments = NewAttachments(nil)
	}
	return &SMTPNotifier{config: config, attachments: attachments}, nil
}

// Send builds msg and delivers it in a single SMTP session.
func (n *SMTPNotifier) Send(ctx context.Context, msg core.Message) error {
	m, err := n.buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.config.Host, n.clientOptions()...)
	if err != nil {
		return core.Permanent(fmt.Errorf("smtp client: %w", err))
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

func (n *SMTPNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{}
	if n.config.Port > 0 {
		opts = append(opts, mail.WithPort(n.config.Port))
	}
	if n.config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(n.config.Timeout))
	}
	switch {
	case n.config.SSL:
		opts = append(opts, mail.WithSSL())
	case n.config.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if n.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.config.Username),
			mail.WithPassword(n.config.Password),
		)
	}
	return opts
}

// buildMessage assembles the MIME message. Address errors and missing
// attachment files are permanent; other read errors are retried.
func (n *SMTPNotifier) buildMessage(msg core.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.config.From); err != nil {
		return nil, core.Permanent(fmt.Errorf("sender %q: %w", n.config.From, err))
	}
	if err := m.To(msg.Recipient); err != nil {
		return nil, core.Permanent(fmt.Errorf("recipient %q: %w", msg.Recipient, err))
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	for _, att := range msg.Attachments {
		if err := n.attach(m, att); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (n *SMTPNotifier) attach(m *mail.Msg, att core.Attachment) error {
	f, err := n.attachments.Open(att)
	if err != nil {
		if isNotExist(err) {
			return core.Permanent(fmt.Errorf("attachment %s: %w", att.URI, err))
		}
		return fmt.Errorf("attachment %s: %w", att.URI, err)
	}
	defer f.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	if err := m.AttachReader(displayName(att), f, mail.WithFileContentType(mail.ContentType(contentType))); err != nil {
		return fmt.Errorf("attachment %s: %w", att.URI, err)
	}
	return nil
}

// classifySMTPError marks 5xx replies to MAIL FROM and RCPT TO as permanent.
// Everything else, including connection failures, is retried.
func classifySMTPError(err error) error {
	var se *mail.SendError
	if errors.As(err, &se) && !se.IsTemp() && se.ErrorCode() >= 500 {
		switch se.Reason {
		case mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo, mail.ErrGetRcpts:
			return core.Permanent(err)
		}
	}
	return core.Retryable(err)
}

var _ core.Notifier = (*SMTPNotifier)(nil)
