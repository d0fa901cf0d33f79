package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/internal/repository"
	"github.com/utafrali/wishlist-sync/pkg/database"
)

var _ repository.AggregateCache = (*AggregateRepository)(nil)

// AggregateRepository implements repository.AggregateCache using PostgreSQL.
// It is the only writer of shop_aggregates.
type AggregateRepository struct {
	pool    database.DBTX
	entries *WishlistRepository
}

// NewAggregateRepository creates an aggregate repository. Reconcile counts
// entries through the same pool or transaction.
func NewAggregateRepository(pool database.DBTX) *AggregateRepository {
	return &AggregateRepository{pool: pool, entries: NewWishlistRepository(pool)}
}

// Lock creates the shop row when missing and takes its row lock.
func (r *AggregateRepository) Lock(ctx context.Context, shop string) error {
	ensure := `-- name: EnsureShopAggregate
		INSERT INTO shop_aggregates (shop)
		VALUES ($1)
		ON CONFLICT (shop) DO NOTHING`

	if _, err := r.pool.Exec(ctx, ensure, shop); err != nil {
		return fmt.Errorf("ensure shop aggregate: %w", err)
	}

	found, err := r.LockExisting(ctx, shop)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("lock shop aggregate: %w", pgx.ErrNoRows)
	}
	return nil
}

// LockExisting takes the row lock without creating the row.
func (r *AggregateRepository) LockExisting(ctx context.Context, shop string) (bool, error) {
	query := `-- name: LockShopAggregate
		SELECT shop FROM shop_aggregates WHERE shop = $1 FOR UPDATE`

	var locked string
	if err := r.pool.QueryRow(ctx, query, shop).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock shop aggregate: %w", err)
	}
	return true, nil
}

// ApplyAdd increments the counters, creating the row as {1,1} when absent.
func (r *AggregateRepository) ApplyAdd(ctx context.Context, shop string, newCustomer bool) (domain.ShopAggregate, error) {
	query := `-- name: ApplyAggregateAdd
		INSERT INTO shop_aggregates (shop, total_items, total_customers, updated_at)
		VALUES ($1, 1, 1, clock_timestamp())
		ON CONFLICT (shop) DO UPDATE SET
			total_items = shop_aggregates.total_items + 1,
			total_customers = shop_aggregates.total_customers + $2,
			updated_at = clock_timestamp()
		RETURNING shop, total_items, total_customers, updated_at`

	a, err := scanAggregate(r.pool.QueryRow(ctx, query, shop, boolDelta(newCustomer)))
	if err != nil {
		return domain.ShopAggregate{}, fmt.Errorf("apply aggregate add: %w", err)
	}
	return a, nil
}

// ApplyRemove decrements the counters, clamped at zero. A shop without a row
// has nothing to decrement and reads as zero.
func (r *AggregateRepository) ApplyRemove(ctx context.Context, shop string, customerGone bool) (domain.ShopAggregate, error) {
	query := `-- name: ApplyAggregateRemove
		UPDATE shop_aggregates SET
			total_items = GREATEST(total_items - 1, 0),
			total_customers = GREATEST(total_customers - $2, 0),
			updated_at = clock_timestamp()
		WHERE shop = $1
		RETURNING shop, total_items, total_customers, updated_at`

	a, err := scanAggregate(r.pool.QueryRow(ctx, query, shop, boolDelta(customerGone)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ZeroAggregate(shop), nil
		}
		return domain.ShopAggregate{}, fmt.Errorf("apply aggregate remove: %w", err)
	}
	return a, nil
}

// Read returns the stored counters without touching wishlist_items.
func (r *AggregateRepository) Read(ctx context.Context, shop string) (domain.ShopAggregate, error) {
	query := `-- name: ReadShopAggregate
		SELECT shop, total_items, total_customers, updated_at
		FROM shop_aggregates
		WHERE shop = $1`

	a, err := scanAggregate(r.pool.QueryRow(ctx, query, shop))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ZeroAggregate(shop), nil
		}
		return domain.ShopAggregate{}, fmt.Errorf("read shop aggregate: %w", err)
	}
	return a, nil
}

// Reconcile recomputes both counters from wishlist_items and overwrites the
// row. Callers run it in a REPEATABLE READ transaction, or under Lock, so
// both counts describe the same set of entries.
func (r *AggregateRepository) Reconcile(ctx context.Context, shop string) (domain.ReconcileResult, error) {
	previous, err := r.Read(ctx, shop)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}

	items, err := r.entries.CountForShop(ctx, shop)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	customers, err := r.entries.CountDistinctCustomers(ctx, shop)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}

	query := `-- name: OverwriteShopAggregate
		INSERT INTO shop_aggregates (shop, total_items, total_customers, updated_at)
		VALUES ($1, $2, $3, clock_timestamp())
		ON CONFLICT (shop) DO UPDATE SET
			total_items = EXCLUDED.total_items,
			total_customers = EXCLUDED.total_customers,
			updated_at = EXCLUDED.updated_at
		RETURNING shop, total_items, total_customers, updated_at`

	current, err := scanAggregate(r.pool.QueryRow(ctx, query, shop, items, customers))
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("overwrite shop aggregate: %w", err)
	}

	return domain.ReconcileResult{
		Aggregate: current,
		Previous:  previous,
		Drifted:   previous.TotalItems != items || previous.TotalCustomers != customers,
	}, nil
}

// Shops lists every shop with an aggregate row.
func (r *AggregateRepository) Shops(ctx context.Context) ([]string, error) {
	query := `-- name: ListAggregateShops
		SELECT shop FROM shop_aggregates ORDER BY shop`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list aggregate shops: %w", err)
	}
	defer rows.Close()

	shops := make([]string, 0)
	for rows.Next() {
		var shop string
		if err := rows.Scan(&shop); err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shops: %w", err)
	}
	return shops, nil
}

func scanAggregate(row pgx.Row) (domain.ShopAggregate, error) {
	var a domain.ShopAggregate
	err := row.Scan(&a.Shop, &a.TotalItems, &a.TotalCustomers, &a.UpdatedAt)
	return a, err
}

func boolDelta(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
