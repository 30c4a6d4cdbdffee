package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type txContextKey struct{}

// queryer is satisfied by both *sql.DB and *sql.Tx so repository methods
// transparently participate in a surrounding transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier returns the transaction carried in ctx when present, otherwise
// the shared pool handle.
func (p *Provider) querier(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return p.db
}

// RunInTx executes fn inside a single database transaction. The
// transaction is stored on the derived context so repository calls made
// through the same provider join it. Nested calls reuse the open
// transaction.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil || p.db == nil {
		return errors.New("postgres: provider is not initialised")
	}
	if fn == nil {
		return errors.New("postgres: transaction function is required")
	}

	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok && tx != nil {
		return fn(ctx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError("postgres.tx.begin", err)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError("postgres.tx.commit", err)
	}
	return nil
}
