package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "wishlist:stats:"

// RedisRelay relays stats events over Redis Pub/Sub, one channel per shop.
type RedisRelay struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *Metrics
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay creates a relay on an existing client. The client is owned
// by the caller.
func NewRedisRelay(client *redis.Client, metrics *Metrics, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger, metrics: metrics}
}

// RedisChannel returns the Pub/Sub channel for shop.
func RedisChannel(shop string) string {
	return redisChannelPrefix + shop
}

// Publish sends msg on the shop's channel.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RedisChannel(msg.Aggregate.Shop), payload).Err(); err != nil {
		return fmt.Errorf("redis relay publish: %w", err)
	}
	return nil
}

// Subscribe listens on every shop channel and resubscribes with backoff
// when the subscription breaks.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(Message)) error {
	op := func() error {
		err := r.listen(ctx, deliver)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		r.metrics.relayFailure("subscribe")
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("redis relay subscription lost, retrying",
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(resubscribeBackOff(), ctx), notify)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *RedisRelay) listen(ctx context.Context, deliver func(Message)) error {
	pubsub := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer func() { _ = pubsub.Close() }()

	// Receive confirms the subscription before messages are consumed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis relay subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("redis relay channel closed")
			}
			msg, err := decodeMessage([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed relay message",
					slog.String("channel", m.Channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			if m.Channel != RedisChannel(msg.Aggregate.Shop) {
				continue
			}
			deliver(msg)
		}
	}
}

// Close is a no-op; the Redis client is shared.
func (r *RedisRelay) Close() error { return nil }

func resubscribeBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}
