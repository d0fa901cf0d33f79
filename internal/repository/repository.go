package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/pkg/pagination"
)

// WishlistStore defines persistence of (shop, customer, product) entries.
type WishlistStore interface {
	// Add inserts the entry unless it exists. created is false when the
	// entry was already present, including when a concurrent insert won.
	Add(ctx context.Context, shop, customerID, productID string) (created bool, err error)

	// Remove deletes the entry if present.
	Remove(ctx context.Context, shop, customerID, productID string) (removed bool, err error)

	// ListByCustomer returns product ids, most recent first.
	ListByCustomer(ctx context.Context, shop, customerID string) ([]string, error)

	// CountForShop counts every entry of the shop by full scan.
	CountForShop(ctx context.Context, shop string) (int64, error)

	// CountDistinctCustomers counts customers with at least one entry.
	CountDistinctCustomers(ctx context.Context, shop string) (int64, error)

	// CountForCustomer counts the entries of one customer.
	CountForCustomer(ctx context.Context, shop, customerID string) (int64, error)

	// ListEntries returns one page of a customer's entries and their total.
	ListEntries(ctx context.Context, shop, customerID string, page pagination.Params) ([]domain.WishlistEntry, int, error)

	// TopProducts ranks products by the number of wishlists holding them.
	TopProducts(ctx context.Context, shop string, limit int) ([]domain.ProductCount, error)

	// RecentActivity returns the latest entries of the shop.
	RecentActivity(ctx context.Context, shop string, limit int) ([]domain.WishlistEntry, error)

	// RemoveProduct deletes every entry of a product in the shop.
	RemoveProduct(ctx context.Context, shop, productID string) (int64, error)
}

// AggregateCache defines the per-shop counter row maintained by deltas.
type AggregateCache interface {
	// Lock ensures the shop's row exists and holds its row lock until the
	// surrounding transaction ends.
	Lock(ctx context.Context, shop string) error

	// LockExisting holds the row lock only when the shop already has a row,
	// reporting whether it does. A shop without a row has no entries.
	LockExisting(ctx context.Context, shop string) (bool, error)

	// ApplyAdd counts one new entry, and one new customer when newCustomer.
	ApplyAdd(ctx context.Context, shop string, newCustomer bool) (domain.ShopAggregate, error)

	// ApplyRemove uncounts one entry, and one customer when customerGone.
	// Counters never drop below zero.
	ApplyRemove(ctx context.Context, shop string, customerGone bool) (domain.ShopAggregate, error)

	// Read returns the row, or a zero aggregate when the shop has none.
	Read(ctx context.Context, shop string) (domain.ShopAggregate, error)

	// Reconcile overwrites the row with counts recomputed from the entries.
	Reconcile(ctx context.Context, shop string) (domain.ReconcileResult, error)

	// Shops lists every shop that has an aggregate row.
	Shops(ctx context.Context) ([]string, error)
}

// Stores bundles the repositories bound to one connection or transaction.
type Stores struct {
	Wishlist   WishlistStore
	Aggregates AggregateCache
}

// TxRunner runs fn with repositories bound to a single transaction at the
// given isolation level. The transaction commits when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(Stores) error) error
}
