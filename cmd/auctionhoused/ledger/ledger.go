// Package ledger is a datastore-backed escrow.Ledger. It keeps party
// balances of currency and items, and per-auction custody.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/escrow"
	"github.com/textileio/auctionhouse/logging"
	"github.com/textileio/auctionhouse/storeutil"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("auctionhouse/ledger")

	// ErrInsufficientFunds indicates a party can't cover a hold.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientItems indicates a party doesn't own enough of an item.
	ErrInsufficientItems = errors.New("insufficient items")
	// ErrInsufficientEscrow indicates a release exceeds what an auction holds.
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	// ErrZeroAmount indicates a deposit of nothing.
	ErrZeroAmount = errors.New("amount must be positive")

	// Structure: /accounts/<party>/currency -> uint64.
	// Structure: /accounts/<party>/items/<item_ref> -> uint64.
	dsAccountsPrefix = ds.NewKey("/accounts")
	// Structure: /escrow/<auction_id>/currency -> uint64.
	// Structure: /escrow/<auction_id>/item -> uint64.
	dsEscrowPrefix = ds.NewKey("/escrow")
)

// Account is a party's balance outside of escrow.
type Account struct {
	Party    auction.PartyID
	Currency uint64
	Items    map[string]uint64
}

// Holding is what an auction holds in escrow.
type Holding struct {
	Currency uint64
	ItemQty  uint64
}

// Ledger implements escrow.Ledger. Methods use the transaction attached to
// the context, if any, so they commit together with the auction record.
type Ledger struct {
	store ds.TxnDatastore
}

var _ escrow.Ledger = (*Ledger)(nil)

// New returns a new Ledger backed by store.
func New(store ds.TxnDatastore) *Ledger {
	return &Ledger{store: store}
}

func currencyKey(p auction.PartyID) ds.Key {
	return dsAccountsPrefix.ChildString(p.String()).ChildString("currency")
}

func itemsPrefix(p auction.PartyID) ds.Key {
	return dsAccountsPrefix.ChildString(p.String()).ChildString("items")
}

func itemKey(p auction.PartyID, itemRef string) ds.Key {
	return itemsPrefix(p).ChildString(itemRef)
}

func escrowCurrencyKey(id auction.ID) ds.Key {
	return dsEscrowPrefix.ChildString(string(id)).ChildString("currency")
}

func escrowItemKey(id auction.ID) ds.Key {
	return dsEscrowPrefix.ChildString(string(id)).ChildString("item")
}

// Deposit credits amount of currency to the party.
func (l *Ledger) Deposit(ctx context.Context, p auction.PartyID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		return add(ctx, txn, currencyKey(p), amount)
	})
}

// DepositItem credits qty units of itemRef to the party.
func (l *Ledger) DepositItem(ctx context.Context, p auction.PartyID, itemRef string, qty uint64) error {
	if qty == 0 {
		return ErrZeroAmount
	}
	if err := auction.ValidateItemRef(itemRef); err != nil {
		return err
	}
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		return add(ctx, txn, itemKey(p, itemRef), qty)
	})
}

// Account returns the party's balances.
func (l *Ledger) Account(ctx context.Context, p auction.PartyID) (Account, error) {
	acc := Account{Party: p, Items: map[string]uint64{}}
	r := storeutil.ReaderFromCtx(ctx, l.store)
	cur, err := get(ctx, r, currencyKey(p))
	if err != nil {
		return acc, err
	}
	acc.Currency = cur

	prefix := itemsPrefix(p)
	results, err := r.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return acc, fmt.Errorf("querying items: %s", err)
	}
	defer func() { _ = results.Close() }()
	for res := range results.Next() {
		if res.Error != nil {
			return acc, fmt.Errorf("getting next result: %s", res.Error)
		}
		qty, err := storeutil.DecodeUint64(res.Value)
		if err != nil {
			return acc, fmt.Errorf("decoding item balance: %s", err)
		}
		ref := strings.TrimPrefix(res.Key, prefix.String()+"/")
		acc.Items[ref] = qty
	}
	return acc, nil
}

// Holding returns what the auction holds in escrow.
func (l *Ledger) Holding(ctx context.Context, id auction.ID) (Holding, error) {
	r := storeutil.ReaderFromCtx(ctx, l.store)
	cur, err := get(ctx, r, escrowCurrencyKey(id))
	if err != nil {
		return Holding{}, err
	}
	qty, err := get(ctx, r, escrowItemKey(id))
	if err != nil {
		return Holding{}, err
	}
	return Holding{Currency: cur, ItemQty: qty}, nil
}

// HoldCurrency implements escrow.Ledger.
func (l *Ledger) HoldCurrency(ctx context.Context, id auction.ID, from auction.PartyID, amount uint64) error {
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		if err := sub(ctx, txn, currencyKey(from), amount, ErrInsufficientFunds); err != nil {
			return err
		}
		if err := add(ctx, txn, escrowCurrencyKey(id), amount); err != nil {
			return err
		}
		log.Debugf("auction %s holds %s from %s", id, logging.Amount(amount), from)
		return nil
	})
}

// ReleaseCurrency implements escrow.Ledger.
func (l *Ledger) ReleaseCurrency(ctx context.Context, id auction.ID, to auction.PartyID, amount uint64) error {
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		if err := sub(ctx, txn, escrowCurrencyKey(id), amount, ErrInsufficientEscrow); err != nil {
			return err
		}
		if err := add(ctx, txn, currencyKey(to), amount); err != nil {
			return err
		}
		log.Debugf("auction %s releases %s to %s", id, logging.Amount(amount), to)
		return nil
	})
}

// HoldItem implements escrow.Ledger.
func (l *Ledger) HoldItem(ctx context.Context, id auction.ID, from auction.PartyID, itemRef string, qty uint64) error {
	if err := auction.ValidateItemRef(itemRef); err != nil {
		return err
	}
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		if err := sub(ctx, txn, itemKey(from, itemRef), qty, ErrInsufficientItems); err != nil {
			return err
		}
		return add(ctx, txn, escrowItemKey(id), qty)
	})
}

// ReleaseItem implements escrow.Ledger.
func (l *Ledger) ReleaseItem(ctx context.Context, id auction.ID, to auction.PartyID, itemRef string, qty uint64) error {
	if err := auction.ValidateItemRef(itemRef); err != nil {
		return err
	}
	return storeutil.WithTxn(ctx, l.store, func(txn ds.Txn) error {
		if err := sub(ctx, txn, escrowItemKey(id), qty, ErrInsufficientEscrow); err != nil {
			return err
		}
		return add(ctx, txn, itemKey(to, itemRef), qty)
	})
}

func get(ctx context.Context, r ds.Read, key ds.Key) (uint64, error) {
	v, err := r.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("getting %s: %s", key, err)
	}
	n, err := storeutil.DecodeUint64(v)
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %s", key, err)
	}
	return n, nil
}

func add(ctx context.Context, txn ds.Txn, key ds.Key, amount uint64) error {
	cur, err := get(ctx, txn, key)
	if err != nil {
		return err
	}
	if cur > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow at %s", key)
	}
	if err := txn.Put(ctx, key, storeutil.EncodeUint64(cur+amount)); err != nil {
		return fmt.Errorf("putting %s: %s", key, err)
	}
	return nil
}

func sub(ctx context.Context, txn ds.Txn, key ds.Key, amount uint64, errShort error) error {
	cur, err := get(ctx, txn, key)
	if err != nil {
		return err
	}
	if cur < amount {
		return fmt.Errorf("%w: have %d, need %d", errShort, cur, amount)
	}
	if cur == amount {
		if err := txn.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting %s: %s", key, err)
		}
		return nil
	}
	if err := txn.Put(ctx, key, storeutil.EncodeUint64(cur-amount)); err != nil {
		return fmt.Errorf("putting %s: %s", key, err)
	}
	return nil
}
