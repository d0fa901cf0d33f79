package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/internal/event"
	"github.com/utafrali/wishlist-sync/internal/repository"
	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
	"github.com/utafrali/wishlist-sync/pkg/pagination"
	"github.com/utafrali/wishlist-sync/pkg/tracing"
)

// Dashboard sizes.
const (
	DashboardTopProducts    = 10
	DashboardRecentActivity = 20
)

const tracerName = "wishlist-service"

const (
	eventWorkers        = 2
	eventQueueSize      = 1024
	eventPublishTimeout = 5 * time.Second
)

// Mutation outcomes recorded in metrics.
const (
	outcomeChanged = "changed"
	outcomeNoop    = "noop"
	outcomeError   = "error"
)

// Broadcaster pushes a committed aggregate to dashboard subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, agg domain.ShopAggregate)
}

// EventPublisher emits wishlist domain events.
type EventPublisher interface {
	PublishItemAdded(ctx context.Context, data event.ItemChangedData) error
	PublishItemRemoved(ctx context.Context, data event.ItemChangedData) error
}

// ProductCatalog resolves product details. Ids it does not know are absent
// from the returned map.
type ProductCatalog interface {
	LookupProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// WishlistService implements the business logic for wishlist operations.
type WishlistService struct {
	tx          repository.TxRunner
	stores      repository.Stores
	broadcaster Broadcaster
	events      EventPublisher
	catalog     ProductCatalog
	metrics     *Metrics
	logger      *slog.Logger

	// lastKnown holds the newest aggregate seen per shop, served when the
	// store cannot be read.
	lastKnown sync.Map
	async     pond.Pool
}

// NewWishlistService creates a new wishlist service. stores must run each
// statement outside any transaction. events and catalog may be nil.
func NewWishlistService(
	tx repository.TxRunner,
	stores repository.Stores,
	broadcaster Broadcaster,
	events EventPublisher,
	catalog ProductCatalog,
	metrics *Metrics,
	logger *slog.Logger,
) *WishlistService {
	return &WishlistService{
		tx:          tx,
		stores:      stores,
		broadcaster: broadcaster,
		events:      events,
		catalog:     catalog,
		metrics:     metrics,
		logger:      logger,
		async:       pond.NewPool(eventWorkers, pond.WithQueueSize(eventQueueSize), pond.WithNonBlocking(true)),
	}
}

// AddToWishlist saves productID for the customer and returns the customer's
// wishlist. Adding an entry that already exists succeeds without changes.
func (s *WishlistService) AddToWishlist(ctx context.Context, shop, customerID, productID string) (_ domain.MutationResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "wishlist.add", attribute.String("wishlist.shop", shop))
	defer func() { tracing.End(span, err) }()

	key, err := validateKey(shop, customerID, productID)
	if err != nil {
		return domain.MutationResult{}, err
	}

	var (
		created bool
		agg     domain.ShopAggregate
	)
	err = s.tx.InTx(ctx, pgx.ReadCommitted, func(st repository.Stores) error {
		created = false
		if err := st.Aggregates.Lock(ctx, shop); err != nil {
			return err
		}
		existing, err := st.Wishlist.CountForCustomer(ctx, shop, key.CustomerID)
		if err != nil {
			return err
		}
		if created, err = st.Wishlist.Add(ctx, shop, key.CustomerID, key.ProductID); err != nil {
			return err
		}
		if !created {
			return nil
		}
		agg, err = st.Aggregates.ApplyAdd(ctx, shop, existing == 0)
		return err
	})
	if err != nil {
		s.metrics.mutation("add", outcomeError)
		return domain.MutationResult{}, s.storeError(ctx, "add to wishlist", shop, err)
	}

	if created {
		s.metrics.mutation("add", outcomeChanged)
		s.afterCommit(ctx, agg)
		s.emit(ctx, event.TopicItemAdded, itemChanged(agg, key))
		s.logger.InfoContext(ctx, "wishlist item added",
			slog.String("shop", shop),
			slog.String("customer_id", key.CustomerID),
			slog.String("product_id", key.ProductID),
		)
	} else {
		s.metrics.mutation("add", outcomeNoop)
	}

	return s.result(ctx, shop, key.CustomerID, created)
}

// RemoveFromWishlist deletes productID from the customer's wishlist and
// returns what remains. Removing an absent entry succeeds without changes.
func (s *WishlistService) RemoveFromWishlist(ctx context.Context, shop, customerID, productID string) (_ domain.MutationResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "wishlist.remove", attribute.String("wishlist.shop", shop))
	defer func() { tracing.End(span, err) }()

	key, err := validateKey(shop, customerID, productID)
	if err != nil {
		return domain.MutationResult{}, err
	}

	var (
		removed bool
		agg     domain.ShopAggregate
	)
	err = s.tx.InTx(ctx, pgx.ReadCommitted, func(st repository.Stores) error {
		removed = false
		found, err := st.Aggregates.LockExisting(ctx, shop)
		if err != nil || !found {
			return err
		}
		if removed, err = st.Wishlist.Remove(ctx, shop, key.CustomerID, key.ProductID); err != nil {
			return err
		}
		if !removed {
			return nil
		}
		remaining, err := st.Wishlist.CountForCustomer(ctx, shop, key.CustomerID)
		if err != nil {
			return err
		}
		agg, err = st.Aggregates.ApplyRemove(ctx, shop, remaining == 0)
		return err
	})
	if err != nil {
		s.metrics.mutation("remove", outcomeError)
		return domain.MutationResult{}, s.storeError(ctx, "remove from wishlist", shop, err)
	}

	if removed {
		s.metrics.mutation("remove", outcomeChanged)
		s.afterCommit(ctx, agg)
		s.emit(ctx, event.TopicItemRemoved, itemChanged(agg, key))
		s.logger.InfoContext(ctx, "wishlist item removed",
			slog.String("shop", shop),
			slog.String("customer_id", key.CustomerID),
			slog.String("product_id", key.ProductID),
		)
	} else {
		s.metrics.mutation("remove", outcomeNoop)
	}

	return s.result(ctx, shop, key.CustomerID, removed)
}

// ListWishlist returns the customer's product ids, most recent first.
func (s *WishlistService) ListWishlist(ctx context.Context, shop, customerID string) ([]string, error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateShop(shop); err != nil {
		return nil, err
	}
	if err := domain.ValidateCustomerID(customerID); err != nil {
		return nil, err
	}

	ids, err := s.stores.Wishlist.ListByCustomer(ctx, shop, customerID)
	if err != nil {
		return nil, s.storeError(ctx, "list wishlist", shop, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// GetStats returns the cached aggregate of shop. It never fails: when the
// store cannot be read it serves the last aggregate seen, or zero.
func (s *WishlistService) GetStats(ctx context.Context, shop string) domain.ShopAggregate {
	agg, err := s.stores.Aggregates.Read(ctx, shop)
	if err != nil {
		fallback := s.lastKnownFor(shop)
		s.logger.WarnContext(ctx, "serving stale wishlist stats",
			slog.String("shop", shop),
			slog.Time("stale_updated_at", fallback.UpdatedAt),
			slog.String("error", err.Error()),
		)
		return fallback
	}
	s.remember(agg)
	return agg
}

// ReconcileStats recomputes the aggregate of shop from its entries,
// overwrites the cached row and broadcasts the result.
func (s *WishlistService) ReconcileStats(ctx context.Context, shop string) (_ domain.ReconcileResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "wishlist.reconcile", attribute.String("wishlist.shop", shop))
	defer func() { tracing.End(span, err) }()

	if err := validateShop(shop); err != nil {
		return domain.ReconcileResult{}, err
	}

	var result domain.ReconcileResult
	err = s.tx.InTx(ctx, pgx.RepeatableRead, func(st repository.Stores) error {
		var err error
		result, err = st.Aggregates.Reconcile(ctx, shop)
		return err
	})
	if err != nil {
		s.metrics.reconciled(outcomeError, false)
		return domain.ReconcileResult{}, s.storeError(ctx, "reconcile stats", shop, err)
	}

	s.reportReconcile(ctx, result)
	s.afterCommit(ctx, result.Aggregate)
	return result, nil
}

// GetWishlistPage returns one page of the customer's wishlist with catalog
// details. Products the catalog cannot resolve are rendered as unknown.
func (s *WishlistService) GetWishlistPage(ctx context.Context, shop, customerID string, page pagination.Params) (pagination.Result[domain.WishlistItem], error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateShop(shop); err != nil {
		return pagination.Result[domain.WishlistItem]{}, err
	}
	if err := domain.ValidateCustomerID(customerID); err != nil {
		return pagination.Result[domain.WishlistItem]{}, err
	}

	entries, total, err := s.stores.Wishlist.ListEntries(ctx, shop, customerID, page)
	if err != nil {
		return pagination.Result[domain.WishlistItem]{}, s.storeError(ctx, "list wishlist page", shop, err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ProductID
	}
	products := s.lookupProducts(ctx, shop, ids)

	items := make([]domain.WishlistItem, len(entries))
	for i, e := range entries {
		items[i] = domain.WishlistItem{Product: productOrUnknown(products, e.ProductID), AddedAt: e.CreatedAt}
	}
	return pagination.NewResult(items, total, page), nil
}

// GetDashboard returns the admin overview of shop: stats, the most
// wishlisted products and the latest activity. A store failure degrades the
// lists to empty rather than failing the page.
func (s *WishlistService) GetDashboard(ctx context.Context, shop string) (domain.Dashboard, error) {
	if err := validateShop(shop); err != nil {
		return domain.Dashboard{}, err
	}

	dash := domain.Dashboard{
		Stats:          s.GetStats(ctx, shop),
		TopProducts:    []domain.RankedProduct{},
		RecentActivity: []domain.WishlistEntry{},
	}

	top, recent, err := s.dashboardLists(ctx, shop)
	if err != nil {
		s.logger.WarnContext(ctx, "dashboard lists unavailable, serving stats only",
			slog.String("shop", shop),
			slog.String("error", err.Error()),
		)
		return dash, nil
	}

	ids := make([]string, len(top))
	for i, p := range top {
		ids[i] = p.ProductID
	}
	products := s.lookupProducts(ctx, shop, ids)

	for _, p := range top {
		dash.TopProducts = append(dash.TopProducts, domain.RankedProduct{Product: productOrUnknown(products, p.ProductID), Count: p.Count})
	}
	dash.RecentActivity = append(dash.RecentActivity, recent...)
	return dash, nil
}

func (s *WishlistService) dashboardLists(ctx context.Context, shop string) ([]domain.ProductCount, []domain.WishlistEntry, error) {
	top, err := s.stores.Wishlist.TopProducts(ctx, shop, DashboardTopProducts)
	if err != nil {
		return nil, nil, fmt.Errorf("load top products: %w", err)
	}
	recent, err := s.stores.Wishlist.RecentActivity(ctx, shop, DashboardRecentActivity)
	if err != nil {
		return nil, nil, fmt.Errorf("load recent activity: %w", err)
	}
	return top, recent, nil
}

// SeedTestData inserts the demo entries into shop, skipping those already
// present, then reconciles so the aggregate matches exactly.
func (s *WishlistService) SeedTestData(ctx context.Context, shop string) (domain.ShopAggregate, error) {
	if err := validateShop(shop); err != nil {
		return domain.ShopAggregate{}, err
	}

	var result domain.ReconcileResult
	err := s.tx.InTx(ctx, pgx.ReadCommitted, func(st repository.Stores) error {
		if err := st.Aggregates.Lock(ctx, shop); err != nil {
			return err
		}
		for _, key := range domain.SeedEntries {
			if _, err := st.Wishlist.Add(ctx, shop, key.CustomerID, key.ProductID); err != nil {
				return err
			}
		}
		var err error
		result, err = st.Aggregates.Reconcile(ctx, shop)
		return err
	})
	if err != nil {
		s.metrics.mutation("seed", outcomeError)
		return domain.ShopAggregate{}, s.storeError(ctx, "seed test data", shop, err)
	}

	s.metrics.mutation("seed", outcomeChanged)
	s.afterCommit(ctx, result.Aggregate)
	s.logger.InfoContext(ctx, "seeded wishlist test data",
		slog.String("shop", shop),
		slog.Int64("total_items", result.Aggregate.TotalItems),
		slog.Int64("total_customers", result.Aggregate.TotalCustomers),
	)
	return result.Aggregate, nil
}

// PurgeProduct removes productID from every wishlist of shop and returns the
// number of entries removed. The aggregate is recomputed under the shop lock.
func (s *WishlistService) PurgeProduct(ctx context.Context, shop, productID string) (_ int64, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "wishlist.purge_product",
		attribute.String("wishlist.shop", shop),
		attribute.String("wishlist.product_id", productID),
	)
	defer func() { tracing.End(span, err) }()

	productID = strings.TrimSpace(productID)
	if err := validateShop(shop); err != nil {
		return 0, err
	}
	if productID == "" {
		return 0, apperrors.InvalidInput("productId is required")
	}

	var (
		removed int64
		result  domain.ReconcileResult
	)
	err = s.tx.InTx(ctx, pgx.ReadCommitted, func(st repository.Stores) error {
		found, err := st.Aggregates.LockExisting(ctx, shop)
		if err != nil || !found {
			return err
		}
		if removed, err = st.Wishlist.RemoveProduct(ctx, shop, productID); err != nil {
			return err
		}
		if removed == 0 {
			return nil
		}
		result, err = st.Aggregates.Reconcile(ctx, shop)
		return err
	})
	if err != nil {
		s.metrics.mutation("purge", outcomeError)
		return 0, s.storeError(ctx, "purge product", shop, err)
	}
	if removed == 0 {
		s.metrics.mutation("purge", outcomeNoop)
		return 0, nil
	}

	s.metrics.mutation("purge", outcomeChanged)
	s.afterCommit(ctx, result.Aggregate)
	return removed, nil
}

// Close waits for queued domain events to be handed to the publisher.
func (s *WishlistService) Close() {
	s.async.StopAndWait()
}

// result re-reads the customer's wishlist after a committed mutation.
func (s *WishlistService) result(ctx context.Context, shop, customerID string, changed bool) (domain.MutationResult, error) {
	ids, err := s.stores.Wishlist.ListByCustomer(ctx, shop, customerID)
	if err != nil {
		return domain.MutationResult{}, s.storeError(ctx, "list wishlist", shop, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return domain.MutationResult{Success: true, Changed: changed, Wishlist: ids}, nil
}

// afterCommit records and broadcasts a durable aggregate.
func (s *WishlistService) afterCommit(ctx context.Context, agg domain.ShopAggregate) {
	s.remember(agg)
	if s.broadcaster != nil {
		s.broadcaster.Publish(ctx, agg)
	}
}

// emit queues a domain event. Publishing happens off the request path and a
// failure is only logged.
func (s *WishlistService) emit(ctx context.Context, topic string, data event.ItemChangedData) {
	if s.events == nil {
		return
	}

	eventCtx := context.WithoutCancel(ctx)
	err := s.async.Go(func() {
		pubCtx, cancel := context.WithTimeout(eventCtx, eventPublishTimeout)
		defer cancel()

		var err error
		switch topic {
		case event.TopicItemAdded:
			err = s.events.PublishItemAdded(pubCtx, data)
		case event.TopicItemRemoved:
			err = s.events.PublishItemRemoved(pubCtx, data)
		}
		if err != nil {
			s.logger.ErrorContext(pubCtx, "failed to publish wishlist event",
				slog.String("topic", topic),
				slog.String("shop", data.Shop),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		s.logger.WarnContext(ctx, "wishlist event queue rejected event",
			slog.String("topic", topic),
			slog.String("shop", data.Shop),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WishlistService) reportReconcile(ctx context.Context, result domain.ReconcileResult) {
	if !result.Drifted {
		s.metrics.reconciled("ok", false)
		return
	}
	s.metrics.reconciled("drift", true)
	s.logger.WarnContext(ctx, "wishlist aggregate drift corrected",
		slog.String("shop", result.Aggregate.Shop),
		slog.Int64("cached_items", result.Previous.TotalItems),
		slog.Int64("cached_customers", result.Previous.TotalCustomers),
		slog.Int64("actual_items", result.Aggregate.TotalItems),
		slog.Int64("actual_customers", result.Aggregate.TotalCustomers),
	)
}

func (s *WishlistService) lookupProducts(ctx context.Context, shop string, ids []string) map[string]domain.Product {
	if s.catalog == nil || len(ids) == 0 {
		return nil
	}
	products, err := s.catalog.LookupProducts(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog lookup failed, rendering unknown products",
			slog.String("shop", shop),
			slog.Int("products", len(ids)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return products
}

// remember keeps agg unless a newer aggregate of the shop was already seen.
func (s *WishlistService) remember(agg domain.ShopAggregate) {
	if prev, ok := s.lastKnown.Load(agg.Shop); ok && prev.(domain.ShopAggregate).Newer(agg) {
		return
	}
	s.lastKnown.Store(agg.Shop, agg)
}

func (s *WishlistService) lastKnownFor(shop string) domain.ShopAggregate {
	if v, ok := s.lastKnown.Load(shop); ok {
		return v.(domain.ShopAggregate)
	}
	return domain.ZeroAggregate(shop)
}

// storeError maps a storage failure to a retryable 503. Application errors
// pass through unchanged.
func (s *WishlistService) storeError(ctx context.Context, op, shop string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.ErrorContext(ctx, "wishlist store failure",
		slog.String("operation", op),
		slog.String("shop", shop),
		slog.String("error", err.Error()),
	)
	return apperrors.Unavailable("wishlist store unavailable", fmt.Errorf("%s: %w", op, err))
}

func validateShop(shop string) error {
	if strings.TrimSpace(shop) == "" {
		return apperrors.InvalidInput("shop is required")
	}
	return nil
}

func validateKey(shop, customerID, productID string) (domain.ItemKey, error) {
	if err := validateShop(shop); err != nil {
		return domain.ItemKey{}, err
	}
	key := domain.ItemKey{CustomerID: customerID, ProductID: productID}.Normalize()
	if err := key.Validate(); err != nil {
		return domain.ItemKey{}, err
	}
	return key, nil
}

func itemChanged(agg domain.ShopAggregate, key domain.ItemKey) event.ItemChangedData {
	return event.ItemChangedData{
		Shop:           agg.Shop,
		CustomerID:     key.CustomerID,
		ProductID:      key.ProductID,
		TotalItems:     agg.TotalItems,
		TotalCustomers: agg.TotalCustomers,
	}
}

func productOrUnknown(products map[string]domain.Product, id string) domain.Product {
	if p, ok := products[id]; ok {
		return p
	}
	return domain.UnknownProduct(id)
}
