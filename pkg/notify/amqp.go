package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// AMQPConfig configures an AMQPNotifier.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPNotifier publishes each message as JSON to a durable direct exchange.
// A separate consumer performs the actual delivery.
type AMQPNotifier struct {
	config AMQPConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// amqpMessage is the published body.
type amqpMessage struct {
	ItemID      string            `json:"item_id"`
	Recipient   string            `json:"recipient"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []core.Attachment `json:"attachments,omitempty"`
}

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(config AMQPConfig) (*AMQPNotifier, error) {
	if config.URL == "" {
		return nil, errors.New("schedmail: amqp url is required")
	}
	if config.Exchange == "" {
		config.Exchange = "schedmail"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "email"
	}

	n := &AMQPNotifier{config: config}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.config.URL)
	if err != nil {
		return fmt.Errorf("error connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("error creating channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.config.Exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("error declaring exchange: %w", err)
	}
	n.conn = conn
	n.channel = ch
	return nil
}

// Send publishes msg. A dropped connection is re-established on the next
// call; the failed publish itself is retried by the engine.
func (n *AMQPNotifier) Send(ctx context.Context, msg core.Message) error {
	body, err := json.Marshal(amqpMessage{
		ItemID:      msg.ItemID,
		Recipient:   msg.Recipient,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return core.Permanent(err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() {
		if err := n.connect(); err != nil {
			return core.Retryable(err)
		}
	}

	err = n.channel.PublishWithContext(ctx, n.config.Exchange, n.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ItemID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return core.Retryable(fmt.Errorf("publish: %w", err))
	}
	return nil
}

// Close closes the channel and the connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	if n.channel != nil {
		if err := n.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		n.channel = nil
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		n.conn = nil
	}
	return errors.Join(errs...)
}

var _ core.Notifier = (*AMQPNotifier)(nil)
