package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	startupAttempts = 3
	startupBaseWait = time.Second
)

// startupBackOff waits about 1s then 2s between at most startupAttempts
// tries, giving up early when ctx ends.
func startupBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = startupBaseWait
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	// NewExponentialBackOff primed its interval from the defaults.
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, startupAttempts-1), ctx)
}

// connectWithRetry calls dial until it succeeds or the startup policy gives
// up. target names the dependency in logs and errors. logger may be nil.
func connectWithRetry[T any](ctx context.Context, target string, logger *slog.Logger, dial func() (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		return dial()
	}
	notify := func(err error, wait time.Duration) {
		if logger == nil {
			return
		}
		logger.WarnContext(ctx, "dependency not reachable, retrying",
			slog.String("target", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", startupAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	conn, err := backoff.RetryNotifyWithData(op, startupBackOff(ctx), notify)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("connect to %s after %d attempts: %w", target, attempt, err)
	}
	return conn, nil
}
