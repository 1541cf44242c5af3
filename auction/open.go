package auction

import (
	"math"
	"time"
)

// OpenParams are the arguments to create an open auction.
type OpenParams struct {
	CreateParams
	MinBidIncrement uint64
}

// OpenAuction is an ascending public-bid auction. Bids are cumulative
// top-ups of a bidder's escrowed amount.
type OpenAuction struct {
	Header
	MinBidIncrement uint64
	HighestBid      uint64
	HighestBidder   PartyID
	Bids            *BidBook
}

// NewOpen validates p and returns the new auction with the transfer that
// moves the item into escrow.
func NewOpen(id ID, p OpenParams, lim Limits, now time.Time) (*OpenAuction, []Transfer, error) {
	if p.MinBidIncrement == 0 {
		return nil, nil, ErrZeroIncrement
	}
	h, err := newHeader(id, KindOpen, p.CreateParams, lim, now)
	if err != nil {
		return nil, nil, err
	}
	a := &OpenAuction{
		Header:          h,
		MinBidIncrement: p.MinBidIncrement,
		Bids:            NewBidBook(p.BidderCap),
	}
	return a, []Transfer{a.holdItem()}, nil
}

// Phase returns the phase of the auction at now.
func (a *OpenAuction) Phase(now time.Time) Phase {
	switch {
	case a.Cancelled:
		return PhaseCancelled
	case !now.After(a.StartTime):
		return PhaseCreated
	case now.Before(a.EndTime):
		return PhaseBidding
	default:
		return PhaseClosed
	}
}

// Cancel stops bidding. Only the owner may cancel, and only before the end
// time. Cancelling twice has no further effect.
func (a *OpenAuction) Cancel(caller PartyID, now time.Time) error {
	return a.cancel(caller, now)
}

// Bid tops up bidder's escrowed amount by amount. The resulting total must
// exceed both the floor and the highest bid plus the minimum increment.
func (a *OpenAuction) Bid(bidder PartyID, amount uint64, now time.Time) ([]Transfer, error) {
	if err := a.checkBidWindow(bidder, now); err != nil {
		return nil, err
	}
	var prior uint64
	e, exists := a.Bids.Get(bidder)
	if exists {
		prior = e.Amount
	} else if a.Bids.Full() {
		return nil, errorf(ErrBidderCapReached, "cap %d", a.Bids.Cap)
	}
	if amount > math.MaxUint64-prior {
		return nil, ErrAmountOverflow
	}
	total := amount + prior
	if total <= a.BidFloor {
		return nil, errorf(ErrUnderFloor, "total %d, floor %d", total, a.BidFloor)
	}
	if a.HighestBid > math.MaxUint64-a.MinBidIncrement || total <= a.HighestBid+a.MinBidIncrement {
		return nil, errorf(ErrInsufficientIncrement, "total %d, highest %d, increment %d", total, a.HighestBid, a.MinBidIncrement)
	}

	if !exists {
		e = &Entry{Bidder: bidder}
		a.Bids.Put(e)
	}
	e.Amount = total
	e.UpdatedAt = now
	a.HighestBid = total
	a.HighestBidder = bidder
	return []Transfer{holdCurrency(bidder, amount)}, nil
}

// ReclaimBid refunds the bidder's escrowed amount. The highest bidder can
// only reclaim once the auction is cancelled.
func (a *OpenAuction) ReclaimBid(bidder PartyID, now time.Time) ([]Transfer, error) {
	e, ok := a.Bids.Get(bidder)
	if !ok {
		return nil, a.Bids.missing(bidder)
	}
	if e.Status == EntryWithdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	if bidder == a.HighestBidder && !a.Cancelled {
		return nil, ErrWinnerCannotReclaim
	}
	a.Bids.Remove(bidder, EntryReclaimed)
	return []Transfer{releaseCurrency(bidder, e.Amount)}, nil
}

func (a *OpenAuction) checkSettled(now time.Time) error {
	if a.Cancelled {
		return ErrAuctionCancelled
	}
	if !now.After(a.EndTime) {
		return ErrAuctionNotOver
	}
	return nil
}

// WithdrawItem hands the item to the highest bidder once the auction closed.
func (a *OpenAuction) WithdrawItem(caller PartyID, now time.Time) ([]Transfer, error) {
	if err := a.checkSettled(now); err != nil {
		return nil, err
	}
	if a.HighestBid == 0 {
		return nil, ErrNoWinningBid
	}
	if caller != a.HighestBidder {
		return nil, ErrNotHighestBidder
	}
	if err := a.checkItemInEscrow(); err != nil {
		return nil, err
	}
	a.ItemStatus = ItemDelivered
	return []Transfer{a.releaseItem(caller)}, nil
}

// WithdrawWinningBid pays the winning amount to the owner once the auction
// closed.
func (a *OpenAuction) WithdrawWinningBid(caller PartyID, now time.Time) ([]Transfer, error) {
	if caller != a.Owner {
		return nil, ErrNotOwner
	}
	if err := a.checkSettled(now); err != nil {
		return nil, err
	}
	e, ok := a.Bids.Get(a.HighestBidder)
	if a.HighestBid == 0 || !ok {
		return nil, ErrNoWinningBid
	}
	if e.Status != EntryActive {
		return nil, ErrAlreadyWithdrawn
	}
	e.Status = EntryWithdrawn
	e.UpdatedAt = now
	return []Transfer{releaseCurrency(a.Owner, e.Amount)}, nil
}

// ReclaimItem returns the item to the owner when the auction was cancelled
// or closed without bids.
func (a *OpenAuction) ReclaimItem(caller PartyID, now time.Time) ([]Transfer, error) {
	if caller != a.Owner {
		return nil, ErrNotOwner
	}
	if !a.Cancelled {
		if !now.After(a.EndTime) {
			return nil, ErrAuctionNotOver
		}
		if a.HighestBid > 0 {
			return nil, ErrItemSold
		}
	}
	if err := a.checkItemInEscrow(); err != nil {
		return nil, err
	}
	a.ItemStatus = ItemReturned
	return []Transfer{a.releaseItem(a.Owner)}, nil
}

// Escrowed is the currency the auction should hold in escrow.
func (a *OpenAuction) Escrowed() uint64 {
	return a.Bids.Escrowed()
}

// Clone returns a deep copy of the auction.
func (a *OpenAuction) Clone() *OpenAuction {
	c := *a
	c.Bids = a.Bids.Clone()
	return &c
}
