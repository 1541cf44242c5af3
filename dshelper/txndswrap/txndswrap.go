// Package txndswrap adds serializable transactions to a datastore that lacks
// them. A read-write transaction holds an exclusive lock from creation until
// it's committed or discarded; read-only transactions share the lock.
package txndswrap

import (
	"context"
	"errors"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

// ErrReadOnly is returned when writing through a read-only transaction.
var ErrReadOnly = errors.New("transaction is read-only")

// Datastore wraps a datastore with transactions.
type Datastore struct {
	child ds.Datastore
	lk    sync.RWMutex
}

var _ ds.TxnDatastore = (*Datastore)(nil)

// Wrap returns child with transaction support. All access to child must go
// through the returned datastore.
func Wrap(child ds.Datastore) *Datastore {
	return &Datastore{child: child}
}

// Get implements ds.Read.
func (d *Datastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	d.lk.RLock()
	defer d.lk.RUnlock()
	return d.child.Get(ctx, key)
}

// Has implements ds.Read.
func (d *Datastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	d.lk.RLock()
	defer d.lk.RUnlock()
	return d.child.Has(ctx, key)
}

// GetSize implements ds.Read.
func (d *Datastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	d.lk.RLock()
	defer d.lk.RUnlock()
	return d.child.GetSize(ctx, key)
}

// Query implements ds.Read. Results are materialized before the lock is
// released.
func (d *Datastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	d.lk.RLock()
	defer d.lk.RUnlock()
	res, err := d.child.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}
	return dsq.ResultsWithEntries(q, entries), nil
}

// Put implements ds.Write.
func (d *Datastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	d.lk.Lock()
	defer d.lk.Unlock()
	return d.child.Put(ctx, key, value)
}

// Delete implements ds.Write.
func (d *Datastore) Delete(ctx context.Context, key ds.Key) error {
	d.lk.Lock()
	defer d.lk.Unlock()
	return d.child.Delete(ctx, key)
}

// Sync implements ds.Datastore.
func (d *Datastore) Sync(ctx context.Context, prefix ds.Key) error {
	return d.child.Sync(ctx, prefix)
}

// Close implements ds.Datastore.
func (d *Datastore) Close() error {
	return d.child.Close()
}

// NewTransaction implements ds.TxnDatastore. It blocks while a conflicting
// transaction is open.
func (d *Datastore) NewTransaction(ctx context.Context, readOnly bool) (ds.Txn, error) {
	if readOnly {
		d.lk.RLock()
	} else {
		d.lk.Lock()
	}
	return &txn{
		d:        d,
		readOnly: readOnly,
		puts:     make(map[ds.Key][]byte),
		deletes:  make(map[ds.Key]struct{}),
	}, nil
}

type txn struct {
	d        *Datastore
	readOnly bool
	puts     map[ds.Key][]byte
	deletes  map[ds.Key]struct{}
	once     sync.Once
}

func (t *txn) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	if _, ok := t.deletes[key]; ok {
		return nil, ds.ErrNotFound
	}
	if v, ok := t.puts[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return t.d.child.Get(ctx, key)
}

func (t *txn) Has(ctx context.Context, key ds.Key) (bool, error) {
	if _, ok := t.deletes[key]; ok {
		return false, nil
	}
	if _, ok := t.puts[key]; ok {
		return true, nil
	}
	return t.d.child.Has(ctx, key)
}

func (t *txn) GetSize(ctx context.Context, key ds.Key) (int, error) {
	if _, ok := t.deletes[key]; ok {
		return -1, ds.ErrNotFound
	}
	if v, ok := t.puts[key]; ok {
		return len(v), nil
	}
	return t.d.child.GetSize(ctx, key)
}

// Query overlays pending writes on the committed state and applies q to the
// merged view.
func (t *txn) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	res, err := t.d.child.Query(ctx, dsq.Query{Prefix: q.Prefix})
	if err != nil {
		return nil, err
	}
	committed, err := res.Rest()
	if err != nil {
		return nil, err
	}
	entries := make([]dsq.Entry, 0, len(committed)+len(t.puts))
	for _, e := range committed {
		k := ds.RawKey(e.Key)
		if _, ok := t.deletes[k]; ok {
			continue
		}
		if _, ok := t.puts[k]; ok {
			continue
		}
		entries = append(entries, e)
	}
	for k, v := range t.puts {
		entries = append(entries, dsq.Entry{Key: k.String(), Value: v, Size: len(v)})
	}
	return dsq.NaiveQueryApply(q, dsq.ResultsWithEntries(q, entries)), nil
}

func (t *txn) Put(ctx context.Context, key ds.Key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	delete(t.deletes, key)
	t.puts[key] = append([]byte(nil), value...)
	return nil
}

func (t *txn) Delete(ctx context.Context, key ds.Key) error {
	if t.readOnly {
		return ErrReadOnly
	}
	delete(t.puts, key)
	t.deletes[key] = struct{}{}
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		defer t.unlock()
		for k := range t.deletes {
			if err = t.d.child.Delete(ctx, k); err != nil {
				return
			}
		}
		for k, v := range t.puts {
			if err = t.d.child.Put(ctx, k, v); err != nil {
				return
			}
		}
	})
	return err
}

func (t *txn) Discard(ctx context.Context) {
	t.once.Do(t.unlock)
}

func (t *txn) unlock() {
	if t.readOnly {
		t.d.lk.RUnlock()
	} else {
		t.d.lk.Unlock()
	}
}
