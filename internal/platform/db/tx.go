package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// maxTxAttempts bounds how often WithRetryTx replays a transaction aborted by the server.
const maxTxAttempts = 3

// WithTx executes fn within a transaction using the requested isolation level.
// The transaction is rolled back when fn returns an error or panics.
func WithTx(ctx context.Context, db TxBeginner, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	return runTx(ctx, db, iso, fn)
}

// WithRetryTx behaves like WithTx but replays attempts aborted by a
// serialization failure or deadlock. fn must not have side effects outside tx.
func WithRetryTx(ctx context.Context, db TxBeginner, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = runTx(ctx, db, iso, fn)
		if err == nil || !IsRetryableTxError(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

func runTx(ctx context.Context, db TxBeginner, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryableTxError reports whether postgres aborted the transaction in a way
// that a fresh attempt may succeed: serialization_failure or deadlock_detected.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
