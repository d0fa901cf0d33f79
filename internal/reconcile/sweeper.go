// Package reconcile periodically recomputes every shop aggregate from its
// entries so that drift left by partial failures is bounded in time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/utafrali/wishlist-sync/internal/domain"
)

// LockKey is the Redis key of the sweep leader lock.
const LockKey = "wishlist:reconcile:leader"

// Reconciler recomputes and broadcasts one shop aggregate.
type Reconciler interface {
	ReconcileStats(ctx context.Context, shop string) (domain.ReconcileResult, error)
}

// ShopLister lists the shops that have an aggregate.
type ShopLister interface {
	Shops(ctx context.Context) ([]string, error)
}

// Locker elects the instance that runs a sweep.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Config holds sweeper settings.
type Config struct {
	Interval time.Duration
	Workers  int
}

// Result summarizes one sweep.
type Result struct {
	Skipped bool
	Shops   int
	Drifted int
	Failed  int
}

// Sweeper reconciles every shop on a bounded worker pool.
type Sweeper struct {
	reconciler Reconciler
	shops      ShopLister
	lock       Locker
	cfg        Config
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. lock may be nil, in which case every
// instance sweeps.
func NewSweeper(reconciler Reconciler, shops ShopLister, lock Locker, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Sweeper{
		reconciler: reconciler,
		shops:      shops,
		lock:       lock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reconcile sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("workers", s.cfg.Workers),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "reconcile sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep reconciles every shop once if this instance wins the leader lock.
// The lock is left to expire after the interval so no other instance sweeps
// again before then. A failure on one shop is counted and does not stop the
// others.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, s.cfg.Interval)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			s.logger.DebugContext(ctx, "reconcile sweep held by another instance")
			return Result{Skipped: true}, nil
		}
	}

	start := time.Now()
	shops, err := s.shops.Shops(ctx)
	if err != nil {
		// Nothing was reconciled; let another instance try this interval.
		s.release(ctx)
		return Result{}, fmt.Errorf("list shops: %w", err)
	}

	var drifted, failed atomic.Int32
	pool := pond.NewPool(s.cfg.Workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, shop := range shops {
		group.Submit(func() {
			res, err := s.reconciler.ReconcileStats(ctx, shop)
			if err != nil {
				failed.Add(1)
				s.logger.WarnContext(ctx, "shop reconcile failed",
					slog.String("shop", shop),
					slog.String("error", err.Error()),
				)
				return
			}
			if res.Drifted {
				drifted.Add(1)
			}
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, fmt.Errorf("reconcile shops: %w", err)
	}

	result := Result{Shops: len(shops), Drifted: int(drifted.Load()), Failed: int(failed.Load())}
	s.logger.InfoContext(ctx, "reconcile sweep completed",
		slog.Int("shops", result.Shops),
		slog.Int("drifted", result.Drifted),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (s *Sweeper) release(ctx context.Context) {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.WarnContext(ctx, "reconcile lock release failed", slog.String("error", err.Error()))
	}
}
