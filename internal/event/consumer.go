package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pkgkafka "github.com/utafrali/wishlist-sync/pkg/kafka"
)

// Kafka topics consumed by the wishlist service.
const (
	TopicProductDeleted = "ecommerce.product.deleted"
)

// WishlistService defines the interface required by the event consumer.
type WishlistService interface {
	PurgeProduct(ctx context.Context, shop, productID string) (int64, error)
}

// ProductDeletedData is the expected payload of a product.deleted event.
type ProductDeletedData struct {
	Shop      string `json:"shop"`
	ProductID string `json:"product_id"`
}

// Consumer processes incoming Kafka events for the wishlist service.
type Consumer struct {
	logger  *slog.Logger
	service WishlistService
}

// NewConsumer creates a new event consumer for the wishlist service.
func NewConsumer(service WishlistService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleProductDeleted removes a deleted catalog product from every wishlist
// of its shop. The shop comes from the payload, falling back to the event
// tenant. Events without a shop or product are skipped rather than retried.
func (c *Consumer) HandleProductDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductDeletedData
	if err := event.DecodeData(&data); err != nil {
		return fmt.Errorf("unmarshal product.deleted data: %w", err)
	}

	shop := strings.TrimSpace(data.Shop)
	if shop == "" {
		shop = strings.TrimSpace(event.Tenant)
	}
	productID := strings.TrimSpace(data.ProductID)
	if productID == "" {
		productID = strings.TrimSpace(event.AggregateID)
	}
	if shop == "" || productID == "" {
		c.logger.WarnContext(ctx, "skipping product.deleted event without shop or product",
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	removed, err := c.service.PurgeProduct(ctx, shop, productID)
	if err != nil {
		return fmt.Errorf("purge product %s for shop %s: %w", productID, shop, err)
	}

	c.logger.InfoContext(ctx, "purged deleted product from wishlists",
		slog.String("shop", shop),
		slog.String("product_id", productID),
		slog.Int64("removed", removed),
	)

	return nil
}
