package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultTxTimeout = 15 * time.Second

type txContextKey struct{}

// TxFunc is executed with a context carrying the open transaction.
type TxFunc func(ctx context.Context) error

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// RunTransaction executes fn inside a read-committed transaction. Repositories called with the
// supplied context join the transaction; nested calls reuse the outer one. Any error from fn, or a
// panic, rolls back every statement issued inside.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc) (err error) {
	if p == nil || p.closed.Load() {
		return ErrProviderClosed
	}
	if fn == nil {
		return errors.New("database: transaction function is nil")
	}
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > defaultTxTimeout {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := p.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return WrapError("transaction.begin", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(context.WithValue(txCtx, txContextKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(txCtx); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}
