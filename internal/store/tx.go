package store

import (
	"context"
	"database/sql"
)

// txKey marks the transaction opened by InTx. Exec, Query and QueryRow
// look it up so that code below InTx never needs a *sql.Tx parameter.
type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}
