package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore claims event ids so that each event is handled once
// across every consumer instance.
type IdempotencyStore interface {
	// Claim reserves eventID. It returns false when the id was already
	// claimed and not released.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release drops a claim so a redelivery can be handled again.
	Release(ctx context.Context, eventID string) error
}

// RedisIdempotencyStore claims ids with SET NX. Claims expire after ttl.
type RedisIdempotencyStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisIdempotencyStore stores claims under "<keyPrefix><eventID>".
func NewRedisIdempotencyStore(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

// IdempotentHandler claims the event id before calling inner and releases
// the claim when inner fails, so retries and redeliveries still run. Events
// without an id, and events seen while the store is down, are always handled.
func IdempotentHandler(store IdempotencyStore, inner Handler, group string, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		claimed, err := store.Claim(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency claim failed, handling event unguarded",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return inner(ctx, event)
		}
		if !claimed {
			consumed(event.EventType, group, outcomeDuplicate)
			logger.DebugContext(ctx, "duplicate event skipped",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			if relErr := store.Release(ctx, event.EventID); relErr != nil {
				logger.WarnContext(ctx, "idempotency release failed",
					slog.String("event_id", event.EventID),
					slog.String("error", relErr.Error()),
				)
			}
			return err
		}
		return nil
	}
}
