package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// DefaultReceiptsKey is the sorted set holding sent item ids scored by send time.
const DefaultReceiptsKey = "schedmail:sent"

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("schedmail: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Receipts wraps a Notifier and records every successful send in Redis.
//
// An item whose id is already recorded is not sent again. This covers the
// window where a message went out but the engine could not record the
// outcome before its lease expired.
type Receipts struct {
	next   core.Notifier
	client *redis.Client
	key    string
	logger *slog.Logger
}

// ReceiptsOption configures Receipts.
type ReceiptsOption func(*Receipts)

// WithReceiptsKey sets the sorted set key.
func WithReceiptsKey(key string) ReceiptsOption {
	return func(r *Receipts) { r.key = key }
}

// WithReceiptsLogger sets the logger used when a receipt cannot be written.
func WithReceiptsLogger(logger *slog.Logger) ReceiptsOption {
	return func(r *Receipts) { r.logger = logger }
}

// NewReceipts wraps next with a Redis sent log.
func NewReceipts(next core.Notifier, client *redis.Client, opts ...ReceiptsOption) *Receipts {
	r := &Receipts{
		next:   next,
		client: client,
		key:    DefaultReceiptsKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send skips msg if it was already sent, otherwise sends and records it.
func (r *Receipts) Send(ctx context.Context, msg core.Message) error {
	sent, err := r.Sent(ctx, msg.ItemID)
	if err != nil {
		return core.Retryable(fmt.Errorf("receipt lookup: %w", err))
	}
	if sent {
		r.logger.Info("skipping already sent item", "item_id", msg.ItemID)
		return nil
	}

	if err := r.next.Send(ctx, msg); err != nil {
		return err
	}

	// The message is out; a lost receipt must not turn into a resend.
	if err := r.Record(context.WithoutCancel(ctx), msg.ItemID, time.Now()); err != nil {
		r.logger.Warn("failed to record receipt", "item_id", msg.ItemID, "error", err)
	}
	return nil
}

// Sent reports whether id has a receipt.
func (r *Receipts) Sent(ctx context.Context, id string) (bool, error) {
	err := r.client.ZScore(ctx, r.key, id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record stores a receipt for id at sentAt.
func (r *Receipts) Record(ctx context.Context, id string, sentAt time.Time) error {
	return r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(sentAt.Unix()),
		Member: id,
	}).Err()
}

// Recent returns a page of sent item ids, newest first, and the total count.
// Pages start at 1.
func (r *Receipts) Recent(ctx context.Context, page, pageSize int) ([]string, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return nil, 0, err
	}
	start := int64((page - 1) * pageSize)
	ids, err := r.client.ZRevRange(ctx, r.key, start, start+int64(pageSize)-1).Result()
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

var _ core.Notifier = (*Receipts)(nil)
