package auction

import (
	"time"

	"github.com/textileio/auctionhouse/auction/commitment"
)

// SealedParams are the arguments to create a sealed auction.
type SealedParams struct {
	CreateParams
	RevealDeadline time.Time
	FirstPrice     bool
	// Hash names the commitment hasher bidders commit with.
	Hash string
}

// SealedAuction is a commit-reveal auction settled at the highest revealed
// bid (first price) or the second-highest (second price).
type SealedAuction struct {
	Header
	RevealDeadline      time.Time
	FirstPrice          bool
	Hash                string
	HighestBid          uint64
	SecondHighestBid    uint64
	HighestBidder       PartyID
	WinningBidWithdrawn bool
	Bids                *BidBook
}

// NewSealed validates p and returns the new auction with the transfer that
// moves the item into escrow.
func NewSealed(id ID, p SealedParams, lim Limits, now time.Time) (*SealedAuction, []Transfer, error) {
	h, err := newHeader(id, KindSealed, p.CreateParams, lim, now)
	if err != nil {
		return nil, nil, err
	}
	if !p.RevealDeadline.After(h.EndTime) {
		return nil, nil, ErrInvalidRevealDeadline
	}
	hasher, err := commitment.HasherByName(p.Hash)
	if err != nil {
		return nil, nil, errorf(ErrUnknownHash, "%s", err)
	}
	a := &SealedAuction{
		Header:         h,
		RevealDeadline: p.RevealDeadline,
		FirstPrice:     p.FirstPrice,
		Hash:           hasher.Name(),
		Bids:           NewBidBook(p.BidderCap),
	}
	return a, []Transfer{a.holdItem()}, nil
}

// Phase returns the phase of the auction at now.
func (a *SealedAuction) Phase(now time.Time) Phase {
	switch {
	case a.Cancelled:
		return PhaseCancelled
	case !now.After(a.StartTime):
		return PhaseCreated
	case now.Before(a.EndTime):
		return PhaseBidding
	case now.Before(a.RevealDeadline):
		return PhaseReveal
	default:
		return PhaseClosed
	}
}

// SettlementPrice is what the winner owes: the highest bid under first-price
// rules or when only one bid was revealed, the second-highest otherwise.
func (a *SealedAuction) SettlementPrice() uint64 {
	if a.FirstPrice || a.SecondHighestBid == 0 {
		return a.HighestBid
	}
	return a.SecondHighestBid
}

// Cancel stops the auction. Only the owner may cancel, and only before the
// end time.
func (a *SealedAuction) Cancel(caller PartyID, now time.Time) error {
	return a.cancel(caller, now)
}

// Commit escrows cover for a hidden bid bound by digest. Each bidder commits
// at most once; a bidder that reclaimed its cover may commit again.
func (a *SealedAuction) Commit(bidder PartyID, digest commitment.Digest, cover uint64, now time.Time) ([]Transfer, error) {
	if err := a.checkBidWindow(bidder, now); err != nil {
		return nil, err
	}
	if cover == 0 {
		return nil, ErrZeroCover
	}
	if _, ok := a.Bids.Get(bidder); ok {
		return nil, ErrDuplicateCommitment
	}
	if a.Bids.Full() {
		return nil, errorf(ErrBidderCapReached, "cap %d", a.Bids.Cap)
	}
	a.Bids.Put(&Entry{
		Bidder:     bidder,
		Amount:     cover,
		Commitment: digest,
		Status:     EntryActive,
		UpdatedAt:  now,
	})
	return []Transfer{holdCurrency(bidder, cover)}, nil
}

// Reveal opens the bidder's commitment. A reveal that beats the highest bid
// takes the lead and refunds the displaced leader; any other valid reveal is
// refunded immediately.
func (a *SealedAuction) Reveal(bidder PartyID, value, nonce uint64, now time.Time) ([]Transfer, error) {
	if a.Cancelled {
		return nil, ErrAuctionCancelled
	}
	if !now.After(a.EndTime) {
		return nil, ErrAuctionNotOver
	}
	if !now.Before(a.RevealDeadline) {
		return nil, ErrRevealPeriodOver
	}
	e, ok := a.Bids.Get(bidder)
	if !ok {
		if st, ok := a.Bids.Tombstone(bidder); ok && st == EntryRefunded {
			return nil, ErrAlreadyRevealed
		}
		return nil, a.Bids.missing(bidder)
	}
	if e.Status == EntryRevealed {
		return nil, ErrAlreadyRevealed
	}
	hasher, err := commitment.HasherByName(a.Hash)
	if err != nil {
		return nil, err
	}
	if !commitment.Verify(hasher, value, nonce, e.Commitment) {
		return nil, ErrHashMismatch
	}
	if value <= a.BidFloor {
		return nil, errorf(ErrUnderFloor, "bid %d, floor %d", value, a.BidFloor)
	}
	if e.Amount < value {
		return nil, errorf(ErrUnderCovered, "bid %d, cover %d", value, e.Amount)
	}

	e.Value = value
	e.UpdatedAt = now
	if value > a.HighestBid {
		var ts []Transfer
		if prev, ok := a.Bids.Get(a.HighestBidder); ok && a.HighestBid > 0 {
			a.Bids.Remove(prev.Bidder, EntryRefunded)
			ts = append(ts, releaseCurrency(prev.Bidder, prev.Amount))
		}
		a.SecondHighestBid = a.HighestBid
		a.HighestBid = value
		a.HighestBidder = bidder
		e.Status = EntryRevealed
		return ts, nil
	}
	if value > a.SecondHighestBid {
		a.SecondHighestBid = value
	}
	a.Bids.Remove(bidder, EntryRefunded)
	return []Transfer{releaseCurrency(bidder, e.Amount)}, nil
}

// ReclaimBid refunds an unrevealed commitment's cover. It is refused for the
// current leader unless the auction was cancelled.
func (a *SealedAuction) ReclaimBid(bidder PartyID, now time.Time) ([]Transfer, error) {
	e, ok := a.Bids.Get(bidder)
	if !ok {
		return nil, a.Bids.missing(bidder)
	}
	switch e.Status {
	case EntryWithdrawn:
		return nil, ErrAlreadyWithdrawn
	case EntryRevealed:
		if !a.Cancelled {
			return nil, ErrWinnerCannotReclaim
		}
	}
	a.Bids.Remove(bidder, EntryReclaimed)
	return []Transfer{releaseCurrency(bidder, e.Amount)}, nil
}

func (a *SealedAuction) checkSettled(now time.Time) error {
	if a.Cancelled {
		return ErrAuctionCancelled
	}
	if !now.After(a.RevealDeadline) {
		return ErrRevealPeriodNotOver
	}
	return nil
}

// WithdrawItem hands the item to the winner and refunds the part of the
// cover above the settlement price. The item transfer is issued first.
func (a *SealedAuction) WithdrawItem(caller PartyID, now time.Time) ([]Transfer, error) {
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
	e, ok := a.Bids.Get(caller)
	if !ok {
		return nil, ErrNotBidder
	}
	price := a.SettlementPrice()
	refund := e.Amount - price
	if a.WinningBidWithdrawn {
		refund = e.Amount
	}

	a.ItemStatus = ItemDelivered
	ts := []Transfer{a.releaseItem(caller)}
	if refund > 0 {
		ts = append(ts, releaseCurrency(caller, refund))
	}
	e.Amount -= refund
	e.UpdatedAt = now
	a.settleWinner(e)
	return ts, nil
}

// WithdrawWinningBid pays the settlement price to the owner, exactly once.
func (a *SealedAuction) WithdrawWinningBid(caller PartyID, now time.Time) ([]Transfer, error) {
	if caller != a.Owner {
		return nil, ErrNotOwner
	}
	if err := a.checkSettled(now); err != nil {
		return nil, err
	}
	if a.WinningBidWithdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	e, ok := a.Bids.Get(a.HighestBidder)
	if a.HighestBid == 0 || !ok {
		return nil, ErrNoWinningBid
	}
	price := a.SettlementPrice()
	a.WinningBidWithdrawn = true
	e.Amount -= price
	e.UpdatedAt = now
	a.settleWinner(e)
	return []Transfer{releaseCurrency(a.Owner, price)}, nil
}

// settleWinner marks the winning entry withdrawn once both the item and the
// price have left escrow.
func (a *SealedAuction) settleWinner(e *Entry) {
	if a.ItemStatus == ItemDelivered && a.WinningBidWithdrawn {
		e.Status = EntryWithdrawn
	}
}

// ReclaimItem returns the item to the owner when the auction was cancelled
// or no bid was revealed by the deadline.
func (a *SealedAuction) ReclaimItem(caller PartyID, now time.Time) ([]Transfer, error) {
	if caller != a.Owner {
		return nil, ErrNotOwner
	}
	if !a.Cancelled {
		if !now.After(a.RevealDeadline) {
			return nil, ErrRevealPeriodNotOver
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
func (a *SealedAuction) Escrowed() uint64 {
	return a.Bids.Escrowed()
}

// Clone returns a deep copy of the auction.
func (a *SealedAuction) Clone() *SealedAuction {
	c := *a
	c.Bids = a.Bids.Clone()
	return &c
}
