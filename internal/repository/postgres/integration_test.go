//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/internal/repository/postgres"
	"github.com/utafrali/wishlist-sync/internal/service"
	"github.com/utafrali/wishlist-sync/migrations"
	"github.com/utafrali/wishlist-sync/pkg/database"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wishlist"),
		tcpostgres.WithUsername("wishlist"),
		tcpostgres.WithPassword("wishlist_secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS, discardLogger()))
	return pool
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(pool *pgxpool.Pool) *service.WishlistService {
	store := postgres.NewStore(pool)
	return service.NewWishlistService(store, store.Stores(), nil, nil, nil, nil, discardLogger())
}

func TestIntegration_WishlistLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	svc := newService(pool)
	t.Cleanup(svc.Close)
	ctx := context.Background()
	const shop = "s.myshopify.com"

	_, err := svc.AddToWishlist(ctx, shop, "c1", "p1")
	require.NoError(t, err)
	_, err = svc.AddToWishlist(ctx, shop, "c1", "p2")
	require.NoError(t, err)
	_, err = svc.AddToWishlist(ctx, shop, "c2", "p1")
	require.NoError(t, err)
	assertStats(t, svc, shop, 3, 2)

	res, err := svc.AddToWishlist(ctx, shop, "c1", "p1")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assertStats(t, svc, shop, 3, 2)

	_, err = svc.RemoveFromWishlist(ctx, shop, "c1", "p1")
	require.NoError(t, err)
	assertStats(t, svc, shop, 2, 2)

	res, err = svc.RemoveFromWishlist(ctx, shop, "c1", "p2")
	require.NoError(t, err)
	assert.Empty(t, res.Wishlist)
	assertStats(t, svc, shop, 1, 1)

	reconciled, err := svc.ReconcileStats(ctx, shop)
	require.NoError(t, err)
	assert.False(t, reconciled.Drifted)
	assert.Equal(t, int64(1), reconciled.Aggregate.TotalItems)
	assert.Equal(t, int64(1), reconciled.Aggregate.TotalCustomers)
}

func TestIntegration_ConcurrentAddSameItem(t *testing.T) {
	pool := setupTestDB(t)
	svc := newService(pool)
	t.Cleanup(svc.Close)
	ctx := context.Background()
	const shop = "race.myshopify.com"

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.AddToWishlist(ctx, shop, "c1", "p1")
			if !assert.NoError(t, err) {
				return
			}
			if res.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wishlist_items WHERE shop = $1`, shop).Scan(&rows))
	assert.Equal(t, 1, rows)
	assertStats(t, svc, shop, 1, 1)
}

func TestIntegration_ConcurrentMixedMutationsMatchRecount(t *testing.T) {
	pool := setupTestDB(t)
	svc := newService(pool)
	t.Cleanup(svc.Close)
	ctx := context.Background()
	const shop = "mixed.myshopify.com"

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		customer := fmt.Sprintf("c%d", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 0; p < 6; p++ {
				product := fmt.Sprintf("p%d", p)
				_, err := svc.AddToWishlist(ctx, shop, customer, product)
				assert.NoError(t, err)
				if p%2 == 0 {
					_, err = svc.RemoveFromWishlist(ctx, shop, customer, product)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()

	result, err := svc.ReconcileStats(ctx, shop)
	require.NoError(t, err)
	assert.False(t, result.Drifted, "incremental aggregate drifted from recount: %+v", result.Previous)
	assert.Equal(t, int64(24), result.Aggregate.TotalItems)
	assert.Equal(t, int64(8), result.Aggregate.TotalCustomers)
}

func TestIntegration_PageOrderAndPurge(t *testing.T) {
	pool := setupTestDB(t)
	svc := newService(pool)
	t.Cleanup(svc.Close)
	ctx := context.Background()
	const shop = "page.myshopify.com"

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := svc.AddToWishlist(ctx, shop, "c1", p)
		require.NoError(t, err)
	}
	_, err := svc.AddToWishlist(ctx, shop, "c2", "p2")
	require.NoError(t, err)

	ids, err := svc.ListWishlist(ctx, shop, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2", "p1"}, ids)

	removed, err := svc.PurgeProduct(ctx, shop, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assertStats(t, svc, shop, 2, 1)
}

func TestIntegration_SeedIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	svc := newService(pool)
	t.Cleanup(svc.Close)
	ctx := context.Background()
	const shop = "seed.myshopify.com"

	first, err := svc.SeedTestData(ctx, shop)
	require.NoError(t, err)
	second, err := svc.SeedTestData(ctx, shop)
	require.NoError(t, err)

	assert.Equal(t, int64(len(domain.SeedEntries)), first.TotalItems)
	assert.Equal(t, first.TotalItems, second.TotalItems)
	assert.Equal(t, first.TotalCustomers, second.TotalCustomers)
}

func assertStats(t *testing.T, svc *service.WishlistService, shop string, items, customers int64) {
	t.Helper()
	agg := svc.GetStats(context.Background(), shop)
	assert.Equal(t, items, agg.TotalItems, "total items")
	assert.Equal(t, customers, agg.TotalCustomers, "total customers")
}
