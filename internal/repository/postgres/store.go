package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/wishlist-sync/internal/repository"
	"github.com/utafrali/wishlist-sync/pkg/database"
)

// SQLSTATE codes after which the whole transaction may be replayed.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

const maxTxAttempts = 4

var _ repository.TxRunner = (*Store)(nil)

// Store binds repositories to a pool and runs them inside transactions.
type Store struct {
	pool database.Pool
}

// NewStore creates a Store over a pgx pool or pgxmock pool.
func NewStore(pool database.Pool) *Store {
	return &Store{pool: pool}
}

// Stores returns repositories that run each statement directly on the pool.
func (s *Store) Stores() repository.Stores {
	return bind(s.pool)
}

// InTx runs fn in one transaction. Serialization failures and deadlocks roll
// back and replay fn from the start, so fn must not keep state across calls.
func (s *Store) InTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(repository.Stores) error) error {
	op := func() error {
		err := database.InTx(ctx, s.pool, pgx.TxOptions{IsoLevel: iso}, func(tx pgx.Tx) error {
			return fn(bind(tx))
		})
		if err != nil && !IsRetryableTxError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(txBackOff(), maxTxAttempts-1), ctx))
}

// IsRetryableTxError reports whether err aborted a transaction that is safe to replay.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func txBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

func bind(db database.DBTX) repository.Stores {
	return repository.Stores{
		Wishlist:   NewWishlistRepository(db),
		Aggregates: NewAggregateRepository(db),
	}
}
