package storeutil

import (
	"context"
	"errors"

	ds "github.com/ipfs/go-datastore"
)

type ctxKeyType string

var ctxKeyTxn = ctxKeyType("ctx-key-datastore-transaction")

type txnOptions struct {
	readOnly bool
}

// TxnOption allows the caller of CtxWithTxn and WithTxn to control the transaction.
type TxnOption func(o *txnOptions)

// TxnReadonly opens a read-only transaction.
func TxnReadonly() TxnOption {
	return func(o *txnOptions) {
		o.readOnly = true
	}
}

func newTxn(ctx context.Context, store ds.TxnDatastore, opts []TxnOption) (ds.Txn, error) {
	var o txnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return store.NewTransaction(ctx, o.readOnly)
}

// CtxWithTxn attaches a datastore transaction to the context. It returns the
// context unchanged if there's an error starting the transaction.
func CtxWithTxn(ctx context.Context, store ds.TxnDatastore, opts ...TxnOption) (context.Context, error) {
	txn, err := newTxn(ctx, store, opts)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, ctxKeyTxn, txn), nil
}

// FinishTxnForCtx commits or discards the transaction attached to the context
// depending on the error passed in, and returns the resulting error. It errors
// if the context doesn't have a transaction attached.
func FinishTxnForCtx(ctx context.Context, err error) error {
	txn, ok := ctx.Value(ctxKeyTxn).(ds.Txn)
	if !ok {
		return errors.New("the context has no transaction attached")
	}
	if err != nil {
		txn.Discard(ctx)
		return err
	}
	return txn.Commit(ctx)
}

// WithTxn runs f in a transaction, committed if f returns no error and
// discarded otherwise. When a transaction is already attached to the
// context, it's used instead and no commit or discard happens.
func WithTxn(ctx context.Context, store ds.TxnDatastore, f func(ds.Txn) error, opts ...TxnOption) (err error) {
	if txn, ok := ctx.Value(ctxKeyTxn).(ds.Txn); ok {
		return f(txn)
	}
	txn, err := newTxn(ctx, store, opts)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			txn.Discard(ctx)
			panic(r)
		}
		if err != nil {
			txn.Discard(ctx)
		} else {
			err = txn.Commit(ctx)
		}
	}()
	err = f(txn)
	return
}

// ReaderFromCtx returns the transaction attached to the context, or store.
func ReaderFromCtx(ctx context.Context, store ds.Read) ds.Read {
	if txn, ok := ctx.Value(ctxKeyTxn).(ds.Txn); ok {
		return txn
	}
	return store
}
