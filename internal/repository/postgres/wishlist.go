package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/internal/repository"
	"github.com/utafrali/wishlist-sync/pkg/database"
	"github.com/utafrali/wishlist-sync/pkg/pagination"
)

var _ repository.WishlistStore = (*WishlistRepository)(nil)

// WishlistRepository implements repository.WishlistStore using PostgreSQL.
type WishlistRepository struct {
	pool database.DBTX
}

// NewWishlistRepository creates a wishlist repository over a pool or transaction.
func NewWishlistRepository(pool database.DBTX) *WishlistRepository {
	return &WishlistRepository{pool: pool}
}

// Add inserts the entry, relying on the unique constraint to absorb duplicates.
func (r *WishlistRepository) Add(ctx context.Context, shop, customerID, productID string) (bool, error) {
	query := `-- name: AddWishlistItem
		INSERT INTO wishlist_items (shop, customer_id, product_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (shop, customer_id, product_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, shop, customerID, productID)
	if err != nil {
		return false, fmt.Errorf("add wishlist item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Remove deletes the entry if it exists.
func (r *WishlistRepository) Remove(ctx context.Context, shop, customerID, productID string) (bool, error) {
	query := `-- name: RemoveWishlistItem
		DELETE FROM wishlist_items
		WHERE shop = $1 AND customer_id = $2 AND product_id = $3`

	tag, err := r.pool.Exec(ctx, query, shop, customerID, productID)
	if err != nil {
		return false, fmt.Errorf("remove wishlist item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByCustomer returns the customer's product ids, most recent first.
func (r *WishlistRepository) ListByCustomer(ctx context.Context, shop, customerID string) ([]string, error) {
	query := `-- name: ListWishlistByCustomer
		SELECT product_id
		FROM wishlist_items
		WHERE shop = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, shop, customerID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist by customer: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wishlist product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wishlist rows: %w", err)
	}
	return ids, nil
}

// CountForShop counts every entry of the shop.
func (r *WishlistRepository) CountForShop(ctx context.Context, shop string) (int64, error) {
	query := `-- name: CountWishlistItemsForShop
		SELECT COUNT(*) FROM wishlist_items WHERE shop = $1`

	var n int64
	if err := r.pool.QueryRow(ctx, query, shop).Scan(&n); err != nil {
		return 0, fmt.Errorf("count wishlist items for shop: %w", err)
	}
	return n, nil
}

// CountDistinctCustomers counts customers holding at least one entry.
func (r *WishlistRepository) CountDistinctCustomers(ctx context.Context, shop string) (int64, error) {
	query := `-- name: CountDistinctWishlistCustomers
		SELECT COUNT(DISTINCT customer_id) FROM wishlist_items WHERE shop = $1`

	var n int64
	if err := r.pool.QueryRow(ctx, query, shop).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct wishlist customers: %w", err)
	}
	return n, nil
}

// CountForCustomer counts one customer's entries through the (shop, customer_id) index.
func (r *WishlistRepository) CountForCustomer(ctx context.Context, shop, customerID string) (int64, error) {
	query := `-- name: CountWishlistItemsForCustomer
		SELECT COUNT(*) FROM wishlist_items WHERE shop = $1 AND customer_id = $2`

	var n int64
	if err := r.pool.QueryRow(ctx, query, shop, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count wishlist items for customer: %w", err)
	}
	return n, nil
}

// ListEntries returns one page of the customer's entries with the total count.
func (r *WishlistRepository) ListEntries(ctx context.Context, shop, customerID string, page pagination.Params) ([]domain.WishlistEntry, int, error) {
	countQuery := `-- name: CountWishlistEntries
		SELECT COUNT(*) FROM wishlist_items WHERE shop = $1 AND customer_id = $2`

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, shop, customerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wishlist entries: %w", err)
	}
	if total == 0 {
		return []domain.WishlistEntry{}, 0, nil
	}

	query := `-- name: ListWishlistEntries
		SELECT id, shop, customer_id, product_id, created_at
		FROM wishlist_items
		WHERE shop = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	entries, err := r.queryEntries(ctx, query, shop, customerID, page.PerPage, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wishlist entries: %w", err)
	}
	return entries, total, nil
}

// TopProducts ranks products by wishlist count, ties broken by product id.
func (r *WishlistRepository) TopProducts(ctx context.Context, shop string, limit int) ([]domain.ProductCount, error) {
	query := `-- name: TopWishlistedProducts
		SELECT product_id, COUNT(*) AS wishlist_count
		FROM wishlist_items
		WHERE shop = $1
		GROUP BY product_id
		ORDER BY wishlist_count DESC, product_id ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, shop, limit)
	if err != nil {
		return nil, fmt.Errorf("top wishlisted products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProductCount, 0, limit)
	for rows.Next() {
		var pc domain.ProductCount
		if err := rows.Scan(&pc.ProductID, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan product count: %w", err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product counts: %w", err)
	}
	return out, nil
}

// RecentActivity returns the shop's latest entries.
func (r *WishlistRepository) RecentActivity(ctx context.Context, shop string, limit int) ([]domain.WishlistEntry, error) {
	query := `-- name: RecentWishlistActivity
		SELECT id, shop, customer_id, product_id, created_at
		FROM wishlist_items
		WHERE shop = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	entries, err := r.queryEntries(ctx, query, shop, limit)
	if err != nil {
		return nil, fmt.Errorf("recent wishlist activity: %w", err)
	}
	return entries, nil
}

// RemoveProduct deletes a product from every wishlist of the shop.
func (r *WishlistRepository) RemoveProduct(ctx context.Context, shop, productID string) (int64, error) {
	query := `-- name: RemoveProductFromWishlists
		DELETE FROM wishlist_items WHERE shop = $1 AND product_id = $2`

	tag, err := r.pool.Exec(ctx, query, shop, productID)
	if err != nil {
		return 0, fmt.Errorf("remove product from wishlists: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *WishlistRepository) queryEntries(ctx context.Context, query string, args ...any) ([]domain.WishlistEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.WishlistEntry, 0)
	for rows.Next() {
		var e domain.WishlistEntry
		if err := rows.Scan(&e.ID, &e.Shop, &e.CustomerID, &e.ProductID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wishlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
