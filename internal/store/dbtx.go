// Package store defines the transactional database handle shared by the
// engine, scheduler, and HTTP layers, and the helper for running a single
// request inside one transaction. The per-cluster row lock is taken inside
// that transaction by engine.Ledger.LockCluster, not here.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so store methods can
// run either standalone or inside a caller-managed transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool wraps a pgxpool.Pool. It adds no methods of its own; transactions
// are run with the package-level WithTx.
type Pool struct {
	*pgxpool.Pool
}

// NewPool wraps an existing connection pool.
func NewPool(pool *pgxpool.Pool) *Pool {
	return &Pool{Pool: pool}
}

// WithTx runs fn inside a new transaction, committing on success and rolling
// back if fn returns an error or panics.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}
