package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const migrationSuffix = ".up.sql"

// migrationLockKey serialises migrators from concurrently starting
// instances. Held with pg_advisory_xact_lock so it is released on commit.
const migrationLockKey int64 = 0x77697368

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// isConnectionError reports whether err is a transient connection problem.
// SQL errors (syntax, constraints) are not.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return true
	}

	msg := err.Error()
	for _, p := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "EOF", "could not connect"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RunMigrations applies every *.up.sql file at the root of migrations that is
// not yet recorded in schema_migrations, in file name order. Each file is
// applied in its own transaction together with its version row. Connection
// failures are retried with the start-up backoff; SQL failures are not.
func RunMigrations(ctx context.Context, db Pool, migrations fs.FS, logger *slog.Logger) error {
	files, err := migrationFiles(migrations)
	if err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := applyMigrations(ctx, db, migrations, files, logger)
		if err != nil && !isConnectionError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "migrations interrupted by connection error, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", startupAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, startupBackOff(ctx), notify); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrationFiles lists the up migrations in apply order.
func migrationFiles(migrations fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), migrationSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedVersions(ctx context.Context, db DBTX) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func applyMigrations(ctx context.Context, db Pool, migrations fs.FS, files []string, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, name := range files {
		if applied[name] {
			continue
		}
		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		ran := false
		err = InTx(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return fmt.Errorf("lock migrations: %w", err)
			}
			// Another instance may have applied it while we waited for the lock.
			var done bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, name).Scan(&done); err != nil {
				return fmt.Errorf("check migration %s: %w", name, err)
			}
			if done {
				return nil
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("execute migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
			ran = true
			return nil
		})
		if err != nil {
			return err
		}
		if ran {
			logger.InfoContext(ctx, "migration applied", slog.String("version", name))
		}
	}
	return nil
}
