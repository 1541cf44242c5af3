package client

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/httpapi"
	"github.com/textileio/auctionhouse/dshelper"
	"github.com/textileio/auctionhouse/msgbroker/localbroker"
)

type manualClock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

func newParty(t *testing.T) auction.PartyID {
	var p auction.PartyID
	_, err := rand.Read(p[:])
	require.NoError(t, err)
	return p
}

func newServer(t *testing.T, auth httpapi.Authenticator) (string, *manualClock) {
	clock := &manualClock{now: time.Now().UTC()}
	conf := house.DefaultConfig()
	conf.DeadlinePollInterval = 0
	h, err := house.New(dshelper.NewInMemoryTxnDatastore(), localbroker.New(), clock, conf)
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.NewHandler(h, auth))
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, h.Close())
	})
	return srv.URL, clock
}

func newClient(t *testing.T, addr string, p auction.PartyID) *Client {
	c, err := New(addr, WithParty(p))
	require.NoError(t, err)
	return c
}

func TestOpenAuctionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	addr, clock := newServer(t, httpapi.HeaderAuthenticator{})

	owner, alice, bob := newParty(t), newParty(t), newParty(t)
	oc, ac, bc := newClient(t, addr, owner), newClient(t, addr, alice), newClient(t, addr, bob)

	_, err := oc.DepositItem(ctx, owner, "painting", 1)
	require.NoError(t, err)
	_, err = ac.Deposit(ctx, alice, 1000)
	require.NoError(t, err)
	_, err = bc.Deposit(ctx, bob, 1000)
	require.NoError(t, err)

	a, err := oc.CreateOpenAuction(ctx, httpapi.CreateAuctionRequest{
		Title:           "Sunset",
		ItemRef:         "painting",
		ItemQty:         1,
		BidFloor:        50,
		EndTime:         clock.Now().Add(time.Hour),
		BidderCap:       2,
		MinBidIncrement: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "created", a.Phase)

	clock.advance(time.Minute)
	_, err = ac.Bid(ctx, a.ID, 100)
	require.NoError(t, err)
	_, err = oc.Bid(ctx, a.ID, 500)
	require.ErrorIs(t, err, auction.ErrOwnerCannotBid)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)

	a, err = bc.Bid(ctx, a.ID, 150)
	require.NoError(t, err)
	require.Equal(t, uint64(150), a.HighestBid)
	require.Equal(t, bob, *a.HighestBidder)
	require.Len(t, a.Bids, 2)

	_, err = bc.WithdrawItem(ctx, a.ID)
	require.ErrorIs(t, err, auction.ErrAuctionNotOver)

	clock.advance(time.Hour)
	_, err = ac.Bid(ctx, a.ID, 100)
	require.ErrorIs(t, err, auction.ErrBidAfterClose)
	_, err = ac.ReclaimBid(ctx, a.ID)
	require.NoError(t, err)
	_, err = bc.WithdrawItem(ctx, a.ID)
	require.NoError(t, err)
	a, err = oc.WithdrawWinningBid(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "closed", a.Phase)
	require.Zero(t, a.Escrowed)

	acc, err := oc.Account(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), acc.Currency)
	acc, err = bc.Account(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(850), acc.Currency)
	assert.Equal(t, uint64(1), acc.Items["painting"])

	e, err := oc.Escrow(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, httpapi.Escrow{AuctionID: a.ID}, e)

	as, err := oc.ListAuctions(ctx, ListQuery{Kind: "open"})
	require.NoError(t, err)
	require.Len(t, as, 1)
	as, err = oc.ListAuctions(ctx, ListQuery{Kind: "sealed"})
	require.NoError(t, err)
	require.Empty(t, as)
}

func TestSealedAuctionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	addr, clock := newServer(t, httpapi.HeaderAuthenticator{})

	owner, alice, bob := newParty(t), newParty(t), newParty(t)
	oc, ac, bc := newClient(t, addr, owner), newClient(t, addr, alice), newClient(t, addr, bob)
	_, err := oc.DepositItem(ctx, owner, "painting", 1)
	require.NoError(t, err)
	_, err = ac.Deposit(ctx, alice, 1000)
	require.NoError(t, err)
	_, err = bc.Deposit(ctx, bob, 1000)
	require.NoError(t, err)

	now := clock.Now()
	a, err := oc.CreateSealedAuction(ctx, httpapi.CreateAuctionRequest{
		ItemRef:        "painting",
		ItemQty:        1,
		BidFloor:       50,
		EndTime:        now.Add(time.Hour),
		BidderCap:      5,
		RevealDeadline: now.Add(2 * time.Hour),
		Hash:           "keccak256",
	})
	require.NoError(t, err)
	require.Equal(t, "keccak256", a.Hash)

	clock.advance(time.Minute)
	_, err = ac.CommitBid(ctx, a.ID, commitment.Commit(commitment.Keccak256, 300, 1), 300)
	require.NoError(t, err)
	_, err = bc.CommitBid(ctx, a.ID, commitment.Commit(commitment.Keccak256, 200, 2), 200)
	require.NoError(t, err)

	clock.advance(time.Hour)
	_, err = ac.RevealBid(ctx, a.ID, 300, 9)
	require.ErrorIs(t, err, auction.ErrHashMismatch)
	_, err = ac.RevealBid(ctx, a.ID, 300, 1)
	require.NoError(t, err)
	a, err = bc.RevealBid(ctx, a.ID, 200, 2)
	require.NoError(t, err)
	require.Equal(t, "reveal", a.Phase)
	require.Equal(t, uint64(200), a.SecondHighestBid)
	require.Equal(t, uint64(200), a.SettlementPrice)

	clock.advance(time.Hour)
	_, err = oc.WithdrawWinningBid(ctx, a.ID)
	require.NoError(t, err)
	_, err = ac.WithdrawItem(ctx, a.ID)
	require.NoError(t, err)

	acc, err := ac.Account(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(800), acc.Currency)
	acc, err = bc.Account(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), acc.Currency)
	acc, err = oc.Account(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, uint64(200), acc.Currency)
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	addr, _ := newServer(t, httpapi.NewJWTAuthenticator("s3cret"))
	party := newParty(t)

	token, err := httpapi.NewToken("s3cret", party, time.Hour)
	require.NoError(t, err)
	c, err := New(addr, WithToken(token))
	require.NoError(t, err)
	acc, err := c.Deposit(ctx, party, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10), acc.Currency)

	anon, err := New(addr, WithParty(party))
	require.NoError(t, err)
	_, err = anon.Account(ctx, party)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	addr, _ := newServer(t, httpapi.HeaderAuthenticator{})
	c := newClient(t, addr, newParty(t))
	_, err := c.GetAuction(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Nil(t, apiErr.Unwrap())
}
