// Command seed loads the demo wishlist entries into one shop, recounts its
// aggregate and relays the result to connected dashboards. With -token it
// also prints a session token for that shop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/wishlist-sync/internal/app"
	"github.com/utafrali/wishlist-sync/internal/auth"
	"github.com/utafrali/wishlist-sync/internal/broadcast"
	"github.com/utafrali/wishlist-sync/internal/config"
	"github.com/utafrali/wishlist-sync/internal/repository/postgres"
	"github.com/utafrali/wishlist-sync/internal/service"
	"github.com/utafrali/wishlist-sync/migrations"
	"github.com/utafrali/wishlist-sync/pkg/database"
	"github.com/utafrali/wishlist-sync/pkg/logger"
)

func main() {
	shop := flag.String("shop", "", "shop domain to seed, e.g. demo.myshopify.com")
	token := flag.Bool("token", false, "print a session token for the shop")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("wishlist-seed", cfg.LogLevel)

	if err := run(cfg, log, strings.ToLower(strings.TrimSpace(*shop)), *token, *tokenTTL); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, shop string, printToken bool, ttl time.Duration) error {
	if shop == "" {
		return fmt.Errorf("-shop is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var client *redis.Client
	if cfg.RelayDriver == config.RelayRedis {
		client, err = database.NewRedisClient(ctx, cfg.Redis(), log)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
	}
	relay, err := app.NewRelay(cfg, client, nil, log)
	if err != nil {
		return err
	}
	broadcaster := broadcast.NewBroadcaster(broadcast.NewHub(broadcast.DefaultBufferSize, nil), relay, nil, log)
	// Close drains the queued relay send before the process exits.
	defer broadcaster.Close()

	store := postgres.NewStore(pool)
	svc := service.NewWishlistService(store, store.Stores(), broadcaster, nil, nil, nil, log)
	defer svc.Close()

	agg, err := svc.SeedTestData(ctx, shop)
	if err != nil {
		return err
	}
	log.Info("seed complete",
		slog.String("shop", agg.Shop),
		slog.Int64("total_items", agg.TotalItems),
		slog.Int64("total_customers", agg.TotalCustomers),
	)

	if printToken {
		signed, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionAudience).Issue(shop, "seed", ttl)
		if err != nil {
			return err
		}
		fmt.Println(signed)
	}
	return nil
}
