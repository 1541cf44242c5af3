package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type openFixture struct {
	a     *OpenAuction
	owner PartyID
	held  uint64
	paid  map[PartyID]uint64
}

func newOpenFixture(t *testing.T) *openFixture {
	owner := newParty(t)
	p := createParams(owner)
	a, _, err := NewOpen("open", OpenParams{CreateParams: p, MinBidIncrement: 10}, DefaultLimits(), t0)
	require.NoError(t, err)
	return &openFixture{a: a, owner: owner, paid: map[PartyID]uint64{}}
}

func (f *openFixture) apply(t *testing.T, ts []Transfer) {
	for _, tr := range ts {
		switch tr.Kind {
		case TransferHoldCurrency:
			f.held += tr.Amount
		case TransferReleaseCurrency:
			require.GreaterOrEqual(t, f.held, tr.Amount)
			f.held -= tr.Amount
			f.paid[tr.Party] += tr.Amount
		}
	}
	require.Equal(t, f.held, f.a.Escrowed())
}

func (f *openFixture) bid(t *testing.T, bidder PartyID, amount uint64, at time.Duration) error {
	ts, err := f.a.Bid(bidder, amount, t0.Add(at))
	if err == nil {
		f.apply(t, ts)
	}
	return err
}

func TestOpenScenario(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 150, time.Minute))
	require.Equal(t, uint64(150), f.a.HighestBid)
	require.NoError(t, f.bid(t, b, 200, 2*time.Minute))
	require.Equal(t, uint64(200), f.a.HighestBid)
	require.Equal(t, b, f.a.HighestBidder)

	ts, err := f.a.ReclaimBid(a, t0.Add(3*time.Minute))
	require.NoError(t, err)
	f.apply(t, ts)
	require.Equal(t, uint64(150), f.paid[a])

	_, err = f.a.ReclaimBid(b, t0.Add(3*time.Minute))
	require.ErrorIs(t, err, ErrWinnerCannotReclaim)
	_, err = f.a.ReclaimBid(b, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrWinnerCannotReclaim)

	closed := t0.Add(2 * time.Hour)
	ts, err = f.a.WithdrawWinningBid(f.owner, closed)
	require.NoError(t, err)
	f.apply(t, ts)
	require.Equal(t, uint64(200), f.paid[f.owner])
	require.Zero(t, f.held)

	_, err = f.a.WithdrawWinningBid(f.owner, closed)
	require.ErrorIs(t, err, ErrAlreadyWithdrawn)

	ts, err = f.a.WithdrawItem(b, closed)
	require.NoError(t, err)
	require.Equal(t, []Transfer{{Kind: TransferReleaseItem, Party: b, Amount: 1}}, ts)
	_, err = f.a.WithdrawItem(b, closed)
	require.ErrorIs(t, err, ErrAlreadyWithdrawn)
	_, err = f.a.ReclaimBid(a, closed)
	require.ErrorIs(t, err, ErrAlreadyReclaimed)
}

func TestOpenCumulativeBids(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 120, time.Minute))
	require.NoError(t, f.bid(t, b, 140, time.Minute))
	// 120 + 30 = 150 does not exceed 140 + 10.
	require.ErrorIs(t, f.bid(t, a, 30, 2*time.Minute), ErrInsufficientIncrement)
	require.NoError(t, f.bid(t, a, 31, 2*time.Minute))
	e, _ := f.a.Bids.Get(a)
	require.Equal(t, uint64(151), e.Amount)
	require.Equal(t, uint64(151), f.a.HighestBid)
	// 140 + 21 = 161 does not exceed 151 + 10.
	require.ErrorIs(t, f.bid(t, b, 21, 3*time.Minute), ErrInsufficientIncrement)
	require.NoError(t, f.bid(t, b, 22, 3*time.Minute))
	require.Equal(t, uint64(313), f.held)
}

func TestOpenBidValidation(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a := newParty(t)
	require.ErrorIs(t, f.bid(t, a, 500, 0), ErrBidBeforeStart)
	require.ErrorIs(t, f.bid(t, a, 500, time.Hour), ErrBidAfterClose)
	require.ErrorIs(t, f.bid(t, f.owner, 500, time.Minute), ErrOwnerCannotBid)
	require.ErrorIs(t, f.bid(t, a, 100, time.Minute), ErrUnderFloor)
	// Floor 100 and no bids yet: the increment still applies over zero.
	require.NoError(t, f.bid(t, a, 101, time.Minute))
	require.ErrorIs(t, f.bid(t, newParty(t), 111, time.Minute), ErrInsufficientIncrement)
	require.ErrorIs(t, f.bid(t, a, ^uint64(0), time.Minute), ErrAmountOverflow)
	require.Equal(t, uint64(101), f.a.HighestBid)
}

func TestOpenBidderCap(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	bidders := []PartyID{newParty(t), newParty(t), newParty(t)}
	for i, b := range bidders {
		require.NoError(t, f.bid(t, b, uint64(200+i*20), time.Minute))
	}
	late := newParty(t)
	require.ErrorIs(t, f.bid(t, late, 1000, time.Minute), ErrBidderCapReached)
	// Existing bidders can still top up.
	require.NoError(t, f.bid(t, bidders[0], 100, 2*time.Minute))

	// A reclaimed entry frees its slot, and the bidder may come back.
	ts, err := f.a.ReclaimBid(bidders[1], t0.Add(3*time.Minute))
	require.NoError(t, err)
	f.apply(t, ts)
	require.NoError(t, f.bid(t, late, 1000, 4*time.Minute))
	require.ErrorIs(t, f.bid(t, bidders[1], 2000, 5*time.Minute), ErrBidderCapReached)
	require.LessOrEqual(t, f.a.Bids.Len(), f.a.BidderCap)
}

func TestOpenRebidAfterReclaim(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 150, time.Minute))
	require.NoError(t, f.bid(t, b, 200, time.Minute))
	ts, err := f.a.ReclaimBid(a, t0.Add(2*time.Minute))
	require.NoError(t, err)
	f.apply(t, ts)

	// The reclaimed 150 no longer counts towards a's total.
	require.ErrorIs(t, f.bid(t, a, 60, 3*time.Minute), ErrUnderFloor)
	require.ErrorIs(t, f.bid(t, a, 205, 3*time.Minute), ErrInsufficientIncrement)
	require.NoError(t, f.bid(t, a, 211, 3*time.Minute))
	e, _ := f.a.Bids.Get(a)
	require.Equal(t, EntryActive, e.Status)
	require.Equal(t, uint64(211), e.Amount)
}

func TestOpenCancel(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 150, time.Minute))
	require.NoError(t, f.bid(t, b, 200, time.Minute))

	require.ErrorIs(t, f.a.Cancel(a, t0.Add(2*time.Minute)), ErrNotOwner)
	require.NoError(t, f.a.Cancel(f.owner, t0.Add(2*time.Minute)))
	require.NoError(t, f.a.Cancel(f.owner, t0.Add(3*time.Minute)))
	require.Equal(t, PhaseCancelled, f.a.Phase(t0.Add(3*time.Minute)))
	require.ErrorIs(t, f.bid(t, a, 500, 4*time.Minute), ErrAuctionCancelled)

	// Everyone, including the highest bidder, can reclaim.
	for _, p := range []PartyID{a, b} {
		ts, err := f.a.ReclaimBid(p, t0.Add(5*time.Minute))
		require.NoError(t, err)
		f.apply(t, ts)
	}
	require.Zero(t, f.held)
	require.Equal(t, uint64(150), f.paid[a])
	require.Equal(t, uint64(200), f.paid[b])

	_, err := f.a.WithdrawItem(b, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrAuctionCancelled)
	_, err = f.a.WithdrawWinningBid(f.owner, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrAuctionCancelled)

	ts, err := f.a.ReclaimItem(f.owner, t0.Add(6*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []Transfer{{Kind: TransferReleaseItem, Party: f.owner, Amount: 1}}, ts)
	_, err = f.a.ReclaimItem(f.owner, t0.Add(7*time.Minute))
	require.ErrorIs(t, err, ErrAlreadyWithdrawn)
}

func TestOpenCancelAfterEnd(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	require.ErrorIs(t, f.a.Cancel(f.owner, f.a.EndTime), ErrAuctionOver)
	require.False(t, f.a.Cancelled)
}

func TestOpenSettlementGuards(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 150, time.Minute))

	_, err := f.a.WithdrawItem(a, t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrAuctionNotOver)
	_, err = f.a.WithdrawItem(b, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotHighestBidder)
	_, err = f.a.WithdrawWinningBid(a, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = f.a.ReclaimItem(f.owner, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrItemSold)
	_, err = f.a.ReclaimItem(a, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = f.a.ReclaimBid(b, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotBidder)
}

func TestOpenNoBids(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	_, err := f.a.ReclaimItem(f.owner, t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrAuctionNotOver)
	_, err = f.a.WithdrawWinningBid(f.owner, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNoWinningBid)
	_, err = f.a.WithdrawItem(newParty(t), t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNoWinningBid)
	ts, err := f.a.ReclaimItem(f.owner, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Equal(t, ItemReturned, f.a.ItemStatus)
}

func TestOpenFailedOperationLeavesRecordUnchanged(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	a, b := newParty(t), newParty(t)
	require.NoError(t, f.bid(t, a, 150, time.Minute))
	before := f.a.Clone()

	require.Error(t, f.bid(t, b, 155, time.Minute))
	_, err := f.a.ReclaimBid(a, t0.Add(time.Minute))
	require.Error(t, err)
	_, err = f.a.WithdrawItem(a, t0.Add(time.Minute))
	require.Error(t, err)
	require.Equal(t, before, f.a)
}

func TestOpenBookStaysWithinCap(t *testing.T) {
	t.Parallel()

	f := newOpenFixture(t)
	leader := newParty(t)
	require.NoError(t, f.bid(t, leader, 150, time.Minute))
	for i := 0; i < 100; i++ {
		p := newParty(t)
		require.NoError(t, f.bid(t, p, f.a.HighestBid+11, time.Minute))
		ts, err := f.a.ReclaimBid(leader, t0.Add(time.Minute))
		require.NoError(t, err)
		f.apply(t, ts)
		leader = p
		require.LessOrEqual(t, len(f.a.Bids.Entries), f.a.BidderCap)
		require.LessOrEqual(t, len(f.a.Bids.Tombstones), f.a.BidderCap)
	}
	require.Equal(t, f.a.HighestBid, f.a.Escrowed())
}
