package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/utafrali/wishlist-sync/internal/domain"
)

const (
	relayWorkers        = 4
	relayQueueSize      = 1024
	relayPublishTimeout = 2 * time.Second
)

// Broadcaster publishes to local subscribers and relays to peer instances.
type Broadcaster struct {
	hub     *Hub
	relay   Relay
	origin  string
	pool    pond.Pool
	logger  *slog.Logger
	metrics *Metrics
}

// NewBroadcaster creates a broadcaster over hub. relay may be nil for a
// single-instance deployment.
func NewBroadcaster(hub *Hub, relay Relay, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		hub:     hub,
		relay:   relay,
		origin:  uuid.NewString(),
		pool:    pond.NewPool(relayWorkers, pond.WithQueueSize(relayQueueSize), pond.WithNonBlocking(true)),
		logger:  logger,
		metrics: metrics,
	}
}

// Origin identifies this instance on the relay.
func (b *Broadcaster) Origin() string { return b.origin }

// Publish delivers agg locally and queues it for the relay. It never blocks
// on the relay and never fails.
func (b *Broadcaster) Publish(ctx context.Context, agg domain.ShopAggregate) {
	b.hub.Publish(agg)
	if b.relay == nil {
		return
	}

	// The relay send outlives the request that triggered it.
	relayCtx := context.WithoutCancel(ctx)
	msg := Message{Origin: b.origin, Aggregate: agg}
	err := b.pool.Go(func() {
		pubCtx, cancel := context.WithTimeout(relayCtx, relayPublishTimeout)
		defer cancel()
		if err := b.relay.Publish(pubCtx, msg); err != nil {
			b.metrics.relayFailure("publish")
			b.logger.WarnContext(pubCtx, "stats relay publish failed",
				slog.String("shop", agg.Shop),
				slog.String("error", err.Error()),
			)
			return
		}
		b.metrics.relay("out")
	})
	if err != nil {
		b.metrics.relayFailure("enqueue")
		b.logger.WarnContext(ctx, "stats relay queue rejected event",
			slog.String("shop", agg.Shop),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe registers a local viewer of shop.
func (b *Broadcaster) Subscribe(shop string) *Subscription {
	return b.hub.Subscribe(shop)
}

// Unsubscribe ends s; it is safe to call more than once.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.hub.Unsubscribe(s)
}

// Run feeds relayed events from other instances into the local hub until
// ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.relay == nil {
		<-ctx.Done()
		return nil
	}
	return b.relay.Subscribe(ctx, func(msg Message) {
		if msg.Origin == b.origin {
			return
		}
		b.metrics.relay("in")
		b.hub.Publish(msg.Aggregate)
	})
}

// Close waits for queued relay sends, ends every subscription and closes
// the relay.
func (b *Broadcaster) Close() error {
	b.pool.StopAndWait()
	b.hub.Close()
	if b.relay != nil {
		return b.relay.Close()
	}
	return nil
}
