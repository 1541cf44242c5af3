// Package house is the single mutation entry point for auctions. Every
// operation runs under a per-auction lock, reads the clock once, and applies
// the record update and its escrow transfers in one datastore transaction.
package house

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	ds "github.com/ipfs/go-datastore"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/ledger"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/store"
	"github.com/textileio/auctionhouse/escrow"
	"github.com/textileio/auctionhouse/logging"
	"github.com/textileio/auctionhouse/metrics"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	"github.com/textileio/auctionhouse/sempool"
	"github.com/textileio/auctionhouse/storeutil"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("auctionhouse/house")

// ErrWrongKind indicates an operation that the auction's kind doesn't support.
var ErrWrongKind = errors.New("operation not supported by auction kind")

// Config configures a House.
type Config struct {
	Limits auction.Limits
	// CommitmentHash names the hasher new sealed auctions commit with.
	CommitmentHash string
	// DeadlinePollInterval is how often phase changes are announced. Zero
	// disables the watcher.
	DeadlinePollInterval time.Duration
}

// DefaultConfig is the default House configuration.
func DefaultConfig() Config {
	return Config{
		Limits:               auction.DefaultLimits(),
		CommitmentHash:       commitment.SHA256.Name(),
		DeadlinePollInterval: 10 * time.Second,
	}
}

// House runs auction operations against a store and an escrow ledger.
type House struct {
	conf   Config
	ds     ds.TxnDatastore
	store  *store.Store
	ledger *ledger.Ledger
	mb     mbroker.MsgBroker
	clock  auction.Clock
	locks  *sempool.SemaphorePool

	ctx      context.Context
	cancel   context.CancelFunc
	finished sync.WaitGroup

	statLastCreatedAuction   int64
	metricNewAuction         metric.Int64Counter
	metricOperations         metric.Int64Counter
	metricEscrowed           metric.Int64Counter
	metricReleased           metric.Int64Counter
	metricPhaseChanges       metric.Int64Counter
	metricLastCreatedAuction metric.Int64GaugeObserver
}

// New returns a House over the datastore d. Events are published to mb.
func New(d ds.TxnDatastore, mb mbroker.MsgBroker, clock auction.Clock, conf Config) (*House, error) {
	if _, err := commitment.HasherByName(conf.CommitmentHash); err != nil {
		return nil, err
	}
	if conf.Limits.MaxTitleLen <= 0 {
		return nil, errors.New("max title length must be positive")
	}
	if clock == nil {
		clock = auction.SystemClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &House{
		conf:   conf,
		ds:     d,
		store:  store.New(d),
		ledger: ledger.New(d),
		mb:     mb,
		clock:  clock,
		locks:  sempool.NewSemaphorePool(1),
		ctx:    ctx,
		cancel: cancel,
	}
	h.initMetrics()

	if conf.DeadlinePollInterval > 0 {
		h.finished.Add(1)
		go h.watchDeadlines()
	}
	return h, nil
}

// Close stops the deadline watcher.
func (h *House) Close() error {
	h.cancel()
	h.finished.Wait()
	return nil
}

// Now reads the house clock.
func (h *House) Now() time.Time {
	return h.clock.Now()
}

// CreateOpenAuction creates an open auction and escrows its item.
func (h *House) CreateOpenAuction(ctx context.Context, p auction.OpenParams) (*store.Record, error) {
	return h.create(ctx, auction.KindOpen, p.Owner, func(id auction.ID, now time.Time) (*store.Record, []auction.Transfer, error) {
		a, ts, err := auction.NewOpen(id, p, h.conf.Limits, now)
		if err != nil {
			return nil, nil, err
		}
		return &store.Record{Open: a}, ts, nil
	})
}

// CreateSealedAuction creates a sealed auction and escrows its item. An empty
// p.Hash selects the configured commitment hash.
func (h *House) CreateSealedAuction(ctx context.Context, p auction.SealedParams) (*store.Record, error) {
	if p.Hash == "" {
		p.Hash = h.conf.CommitmentHash
	}
	return h.create(ctx, auction.KindSealed, p.Owner, func(id auction.ID, now time.Time) (*store.Record, []auction.Transfer, error) {
		a, ts, err := auction.NewSealed(id, p, h.conf.Limits, now)
		if err != nil {
			return nil, nil, err
		}
		return &store.Record{Sealed: a}, ts, nil
	})
}

// CancelAuction cancels the auction on behalf of caller.
func (h *House) CancelAuction(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return h.mutate(ctx, "cancel", id, caller, mbroker.AuctionCancelledTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			if err := r.Auction().Cancel(caller, now); err != nil {
				return nil, err
			}
			r.AnnouncedPhase = auction.PhaseCancelled
			return nil, nil
		})
}

// Bid tops up bidder's bid in an open auction by amount.
func (h *House) Bid(ctx context.Context, id auction.ID, bidder auction.PartyID, amount uint64) (*store.Record, error) {
	return h.mutate(ctx, "bid", id, bidder, mbroker.BidPlacedTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			if r.Open == nil {
				return nil, ErrWrongKind
			}
			return r.Open.Bid(bidder, amount, now)
		})
}

// CommitBid escrows cover for a sealed bid bound by digest.
func (h *House) CommitBid(
	ctx context.Context,
	id auction.ID,
	bidder auction.PartyID,
	digest commitment.Digest,
	cover uint64) (*store.Record, error) {
	return h.mutate(ctx, "commit", id, bidder, mbroker.BidCommittedTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			if r.Sealed == nil {
				return nil, ErrWrongKind
			}
			return r.Sealed.Commit(bidder, digest, cover, now)
		})
}

// RevealBid opens bidder's sealed commitment.
func (h *House) RevealBid(
	ctx context.Context,
	id auction.ID,
	bidder auction.PartyID,
	value, nonce uint64) (*store.Record, error) {
	return h.mutate(ctx, "reveal", id, bidder, mbroker.BidRevealedTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			if r.Sealed == nil {
				return nil, ErrWrongKind
			}
			return r.Sealed.Reveal(bidder, value, nonce, now)
		})
}

// ReclaimBid refunds bidder's escrowed bid or cover.
func (h *House) ReclaimBid(ctx context.Context, id auction.ID, bidder auction.PartyID) (*store.Record, error) {
	return h.mutate(ctx, "reclaim-bid", id, bidder, mbroker.BidReclaimedTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			return r.Auction().ReclaimBid(bidder, now)
		})
}

// WithdrawItem hands the item to the winner.
func (h *House) WithdrawItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return h.mutate(ctx, "withdraw-item", id, caller, mbroker.ItemWithdrawnTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			return r.Auction().WithdrawItem(caller, now)
		})
}

// WithdrawWinningBid pays the winning bid to the owner.
func (h *House) WithdrawWinningBid(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return h.mutate(ctx, "withdraw-winning-bid", id, caller, mbroker.WinningBidWithdrawnTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			return r.Auction().WithdrawWinningBid(caller, now)
		})
}

// ReclaimItem returns an unsold item to the owner.
func (h *House) ReclaimItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return h.mutate(ctx, "reclaim-item", id, caller, mbroker.ItemReclaimedTopic,
		func(r *store.Record, now time.Time) ([]auction.Transfer, error) {
			return r.Auction().ReclaimItem(caller, now)
		})
}

// GetAuction returns the auction id.
func (h *House) GetAuction(ctx context.Context, id auction.ID) (*store.Record, error) {
	return h.store.Get(ctx, id)
}

// ListAuctions lists auctions.
func (h *House) ListAuctions(ctx context.Context, q store.Query) ([]store.Record, error) {
	return h.store.List(ctx, q)
}

// Deposit credits currency to a party's account.
func (h *House) Deposit(ctx context.Context, p auction.PartyID, amount uint64) error {
	if err := h.ledger.Deposit(ctx, p, amount); err != nil {
		return err
	}
	log.Infof("deposited %s to %s", logging.Amount(amount), p)
	return nil
}

// DepositItem credits items to a party's account.
func (h *House) DepositItem(ctx context.Context, p auction.PartyID, itemRef string, qty uint64) error {
	if err := h.ledger.DepositItem(ctx, p, itemRef, qty); err != nil {
		return err
	}
	log.Infof("deposited %d of %s to %s", qty, itemRef, p)
	return nil
}

// Account returns a party's balances outside of escrow.
func (h *House) Account(ctx context.Context, p auction.PartyID) (ledger.Account, error) {
	return h.ledger.Account(ctx, p)
}

// Holding returns what the auction holds in escrow.
func (h *House) Holding(ctx context.Context, id auction.ID) (ledger.Holding, error) {
	if _, err := h.store.Get(ctx, id); err != nil {
		return ledger.Holding{}, err
	}
	return h.ledger.Holding(ctx, id)
}

type buildFunc func(id auction.ID, now time.Time) (*store.Record, []auction.Transfer, error)

func (h *House) create(ctx context.Context, kind auction.Kind, owner auction.PartyID, build buildFunc) (r *store.Record, err error) {
	op := "create-" + kind.String()
	defer func() { metrics.MetricIncrCounter(ctx, err, h.metricOperations, metrics.AttrOp(op)) }()

	now := h.clock.Now()
	id, err := h.store.NewID(now)
	if err != nil {
		return nil, err
	}
	var ts []auction.Transfer
	err = h.inTxn(ctx, func(txnCtx context.Context) error {
		var err error
		r, ts, err = build(id, now)
		if err != nil {
			return err
		}
		r.AnnouncedPhase = r.Auction().Phase(now)
		if err := escrow.Apply(txnCtx, h.ledger, r.Header(), ts); err != nil {
			return fmt.Errorf("escrowing item: %w", err)
		}
		if err := h.store.Save(txnCtx, r); err != nil {
			return fmt.Errorf("saving auction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.metricNewAuction.Add(ctx, 1, metrics.AttrKind(kind.String()))
	atomic.StoreInt64(&h.statLastCreatedAuction, now.Unix())
	hd := r.Header()
	log.Infof("created %s auction %s by %s (floor %s, ends %s)",
		kind, hd.ID, owner, logging.Amount(hd.BidFloor), humanize.Time(hd.EndTime))
	h.publish(ctx, mbroker.AuctionCreatedTopic, r, owner, ts, now)
	return r, nil
}

type mutateFunc func(r *store.Record, now time.Time) ([]auction.Transfer, error)

// mutate runs f against the current record of id and commits the result
// with its transfers. Nothing is written if any step fails.
func (h *House) mutate(
	ctx context.Context,
	op string,
	id auction.ID,
	party auction.PartyID,
	topic mbroker.TopicName,
	f mutateFunc) (r *store.Record, err error) {
	defer func() { metrics.MetricIncrCounter(ctx, err, h.metricOperations, metrics.AttrOp(op)) }()

	unlock, err := h.locks.Acquire(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("waiting for auction %s: %w", id, err)
	}
	now := h.clock.Now()

	var ts []auction.Transfer
	err = h.inTxn(ctx, func(txnCtx context.Context) error {
		var err error
		r, err = h.store.Get(txnCtx, id)
		if err != nil {
			return err
		}
		ts, err = f(r, now)
		if err != nil {
			return err
		}
		if err := escrow.Apply(txnCtx, h.ledger, r.Header(), ts); err != nil {
			return fmt.Errorf("applying escrow transfers: %w", err)
		}
		if err := h.store.Save(txnCtx, r); err != nil {
			return fmt.Errorf("saving auction: %w", err)
		}
		return nil
	})
	unlock()
	if err != nil {
		log.Debugf("%s on auction %s by %s refused: %s", op, id, party, err)
		return nil, err
	}

	h.recordTransfers(ctx, ts)
	log.Debugf("%s on auction %s by %s: %v", op, id, party, ts)
	h.publish(ctx, topic, r, party, ts, now)
	return r, nil
}

func (h *House) inTxn(ctx context.Context, f func(context.Context) error) error {
	txnCtx, err := storeutil.CtxWithTxn(ctx, h.ds)
	if err != nil {
		return fmt.Errorf("opening transaction: %s", err)
	}
	return storeutil.FinishTxnForCtx(txnCtx, f(txnCtx))
}

// publish emits an event for a committed change. Failures are only logged
// since the change already took effect.
func (h *House) publish(
	ctx context.Context,
	topic mbroker.TopicName,
	r *store.Record,
	party auction.PartyID,
	ts []auction.Transfer,
	now time.Time) {
	if h.mb == nil {
		return
	}
	hd := r.Header()
	held, released := auction.Balance(ts)
	ev := mbroker.AuctionEvent{
		AuctionID: string(hd.ID),
		Kind:      hd.Kind.String(),
		Amount:    held + released,
		Phase:     r.Auction().Phase(now).String(),
		Ts:        now,
	}
	if !party.IsZero() {
		ev.Party = party.String()
	}
	if err := mbroker.PublishMsgAuctionEvent(ctx, h.mb, topic, ev); err != nil {
		log.Errorf("publishing %s event for auction %s: %s", topic, hd.ID, err)
	}
}
