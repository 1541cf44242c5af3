package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/oklog/ulid/v2"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/storeutil"
	golog "github.com/textileio/go-log/v2"
)

const (
	// defaultListLimit is the default list page size.
	defaultListLimit = 10
	// maxListLimit is the max list page size.
	maxListLimit = 1000
)

var (
	log = golog.Logger("auctionhouse/store")

	// ErrAuctionNotFound indicates the requested auction was not found.
	ErrAuctionNotFound = errors.New("auction not found")

	// dsPrefix is the prefix for auction records.
	// Structure: /auctions/<auction_id> -> Record.
	dsPrefix = ds.NewKey("/auctions")

	// dsPendingPrefix indexes auctions with phase boundaries left to announce.
	// Structure: /pending/<auction_id> -> nil.
	dsPendingPrefix = ds.NewKey("/pending")
)

// Record is a persisted auction. Exactly one of Open and Sealed is set.
type Record struct {
	Open   *auction.OpenAuction
	Sealed *auction.SealedAuction
	// AnnouncedPhase is the last phase published for the auction.
	AnnouncedPhase auction.Phase
}

// Auction returns the auction held by the record.
func (r *Record) Auction() auction.Auction {
	if r.Open != nil {
		return r.Open
	}
	return r.Sealed
}

// Header returns the common header of the record's auction.
func (r *Record) Header() *auction.Header {
	return r.Auction().Base()
}

// Terminal reports whether no phase boundary is left to announce.
func (r *Record) Terminal() bool {
	return r.AnnouncedPhase == auction.PhaseClosed || r.AnnouncedPhase == auction.PhaseCancelled
}

// Store persists auction records in a transactional datastore. Methods use
// the transaction attached to the context, if any.
type Store struct {
	store ds.TxnDatastore

	lk      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New returns a new Store backed by store.
func New(store ds.TxnDatastore) *Store {
	return &Store{store: store}
}

// NewID returns a new monotonically increasing auction id.
func (s *Store) NewID(t time.Time) (auction.ID, error) {
	s.lk.Lock() // entropy is not safe for concurrent use
	defer s.lk.Unlock()

	for {
		if s.entropy == nil {
			s.entropy = ulid.Monotonic(rand.Reader, 0)
		}
		id, err := ulid.New(ulid.Timestamp(t.UTC()), s.entropy)
		if errors.Is(err, ulid.ErrMonotonicOverflow) {
			s.entropy = nil
			continue
		} else if err != nil {
			return "", fmt.Errorf("generating id: %v", err)
		}
		return auction.ID(strings.ToLower(id.String())), nil
	}
}

// Get returns the record of the auction id.
func (s *Store) Get(ctx context.Context, id auction.ID) (*Record, error) {
	val, err := storeutil.ReaderFromCtx(ctx, s.store).Get(ctx, dsPrefix.ChildString(string(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrAuctionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	r, err := decode(val)
	if err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return r, nil
}

// Save writes r and keeps the pending index in sync with its announced phase.
func (s *Store) Save(ctx context.Context, r *Record) error {
	h := r.Header()
	if h.ID == "" {
		return errors.New("auction id is empty")
	}
	val, err := encode(r)
	if err != nil {
		return fmt.Errorf("encoding value: %v", err)
	}
	return storeutil.WithTxn(ctx, s.store, func(txn ds.Txn) error {
		if err := txn.Put(ctx, dsPrefix.ChildString(string(h.ID)), val); err != nil {
			return fmt.Errorf("putting key: %v", err)
		}
		pendingKey := dsPendingPrefix.ChildString(string(h.ID))
		if r.Terminal() {
			if err := txn.Delete(ctx, pendingKey); err != nil {
				return fmt.Errorf("deleting pending key: %v", err)
			}
		} else if err := txn.Put(ctx, pendingKey, nil); err != nil {
			return fmt.Errorf("putting pending key: %v", err)
		}
		log.Debugf("saved auction %s (announced %s)", h.ID, r.AnnouncedPhase)
		return nil
	})
}

// ListPending returns the ids of auctions with phase changes left to announce.
func (s *Store) ListPending(ctx context.Context) ([]auction.ID, error) {
	results, err := storeutil.ReaderFromCtx(ctx, s.store).Query(ctx, dsq.Query{
		Prefix:   dsPendingPrefix.String(),
		KeysOnly: true,
		Orders:   []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying pending auctions: %v", err)
	}
	defer func() { _ = results.Close() }()

	var ids []auction.ID
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		ids = append(ids, auction.ID(ds.RawKey(res.Key).BaseNamespace()))
	}
	return ids, nil
}

// Query is used to query for auctions.
type Query struct {
	Offset string
	Order  Order
	Limit  int
	// Kind restricts results to one auction kind when set.
	Kind *auction.Kind
}

func (q Query) setDefaults() Query {
	if q.Limit == -1 {
		q.Limit = maxListLimit
	} else if q.Limit <= 0 {
		q.Limit = defaultListLimit
	} else if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return q
}

// Order specifies the order of list results.
// Default is descending by time created.
type Order int

const (
	// OrderDescending lists the most recent auctions first.
	OrderDescending Order = iota
	// OrderAscending lists the oldest auctions first.
	OrderAscending
)

// List lists auctions by applying a Query. Offset is the id of the last
// auction of the previous page.
func (s *Store) List(ctx context.Context, query Query) ([]Record, error) {
	query = query.setDefaults()

	q := dsq.Query{Prefix: dsPrefix.String()}
	switch query.Order {
	case OrderDescending:
		q.Orders = []dsq.Order{dsq.OrderByKeyDescending{}}
		if query.Offset != "" {
			q.Filters = append(q.Filters, dsq.FilterKeyCompare{
				Op:  dsq.LessThan,
				Key: dsPrefix.ChildString(query.Offset).String(),
			})
		}
	case OrderAscending:
		q.Orders = []dsq.Order{dsq.OrderByKey{}}
		if query.Offset != "" {
			q.Filters = append(q.Filters, dsq.FilterKeyCompare{
				Op:  dsq.GreaterThan,
				Key: dsPrefix.ChildString(query.Offset).String(),
			})
		}
	default:
		return nil, fmt.Errorf("unknown order %d", query.Order)
	}
	if query.Kind == nil {
		q.Limit = query.Limit
	}

	results, err := storeutil.ReaderFromCtx(ctx, s.store).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying auctions: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []Record
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		r, err := decode(res.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding value: %v", err)
		}
		if query.Kind != nil && r.Header().Kind != *query.Kind {
			continue
		}
		list = append(list, *r)
		if len(list) == query.Limit {
			break
		}
	}
	return list, nil
}

func encode(r *Record) ([]byte, error) {
	return storeutil.EncodeGob(r)
}

func decode(v []byte) (*Record, error) {
	var r Record
	if err := storeutil.DecodeGob(v, &r); err != nil {
		return nil, err
	}
	if r.Open == nil && r.Sealed == nil {
		return nil, errors.New("record holds no auction")
	}
	return &r, nil
}
