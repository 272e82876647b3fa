package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// WithTx executes fn inside a RepeatableRead transaction. Row-level FOR UPDATE
// locks inside fn serialise concurrent writers touching the same balances and
// batches; a serialization failure surfaces as a retryable domain error.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withIsolation(ctx, pool, pgx.RepeatableRead, fn)
}

// WithSerializableTx runs fn at Serializable isolation. Used where a read
// precedes a dependent write across several rows, such as FIFO deduction.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withIsolation(ctx, pool, pgx.Serializable, fn)
}

func withIsolation(ctx context.Context, pool *pgxpool.Pool, level pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		if isContention(err) {
			return shared.RetryableError(err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isContention(err) {
			return shared.RetryableError(err)
		}
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// isContention recognises serialization failures (40001) and deadlocks (40P01).
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
