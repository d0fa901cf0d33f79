package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/wishlist-sync/pkg/kafka"
	"github.com/utafrali/wishlist-sync/pkg/logger"
)

// Kafka topic constants for wishlist domain events.
const (
	TopicItemAdded   = "ecommerce.wishlist.item_added"
	TopicItemRemoved = "ecommerce.wishlist.item_removed"
)

// Aggregate type constant.
const AggregateTypeWishlist = "wishlist"

// Source identifier for events originating from the wishlist service.
const SourceWishlistService = "wishlist-service"

// ItemChangedData is the payload of item_added and item_removed events.
// The counters are the shop aggregate right after the change committed.
type ItemChangedData struct {
	Shop           string `json:"shop"`
	CustomerID     string `json:"customer_id"`
	ProductID      string `json:"product_id"`
	TotalItems     int64  `json:"total_items"`
	TotalCustomers int64  `json:"total_customers"`
}

// Publisher is the subset of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes wishlist domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the wishlist service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishItemAdded publishes a wishlist.item_added event.
func (p *Producer) PublishItemAdded(ctx context.Context, data ItemChangedData) error {
	return p.publish(ctx, TopicItemAdded, data)
}

// PublishItemRemoved publishes a wishlist.item_removed event.
func (p *Producer) PublishItemRemoved(ctx context.Context, data ItemChangedData) error {
	return p.publish(ctx, TopicItemRemoved, data)
}

func (p *Producer) publish(ctx context.Context, topic string, data ItemChangedData) error {
	event, err := pkgkafka.NewEvent(topic, data.CustomerID, AggregateTypeWishlist, SourceWishlistService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithTenant(data.Shop)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published wishlist event",
		slog.String("topic", topic),
		slog.String("shop", data.Shop),
		slog.String("product_id", data.ProductID),
	)

	return nil
}
