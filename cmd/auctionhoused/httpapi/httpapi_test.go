package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/ledger"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/store"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

var t0 = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func newParty(t *testing.T) auction.PartyID {
	var p auction.PartyID
	_, err := rand.Read(p[:])
	require.NoError(t, err)
	return p
}

func openRecord(t *testing.T, owner auction.PartyID) *store.Record {
	a, _, err := auction.NewOpen("a1", auction.OpenParams{
		CreateParams: auction.CreateParams{
			Owner:     owner,
			Title:     "Sunset",
			ItemRef:   "painting",
			ItemQty:   1,
			BidFloor:  50,
			EndTime:   t0.Add(time.Hour),
			BidderCap: 5,
		},
		MinBidIncrement: 10,
	}, auction.DefaultLimits(), t0)
	require.NoError(t, err)
	return &store.Record{Open: a}
}

func sealedRecord(t *testing.T, owner auction.PartyID) *store.Record {
	a, _, err := auction.NewSealed("s1", auction.SealedParams{
		CreateParams: auction.CreateParams{
			Owner:     owner,
			ItemRef:   "painting",
			ItemQty:   1,
			BidFloor:  50,
			EndTime:   t0.Add(time.Hour),
			BidderCap: 5,
		},
		RevealDeadline: t0.Add(2 * time.Hour),
	}, auction.DefaultLimits(), t0)
	require.NoError(t, err)
	return &store.Record{Sealed: a}
}

func newTestHandler() (*mockHouse, http.Handler) {
	m := &mockHouse{}
	m.On("Now").Return(t0.Add(time.Minute)).Maybe()
	return m, createMux(m, HeaderAuthenticator{})
}

func do(t *testing.T, h http.Handler, method, url string, caller *auction.PartyID, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	if caller != nil {
		req.Header.Set(PartyHeader, caller.String())
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, h := newTestHandler()
	res := do(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestCreateOpenAuction(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	owner := newParty(t)

	m.On("CreateOpenAuction", mock.Anything, mock.MatchedBy(func(p auction.OpenParams) bool {
		return p.Owner == owner && p.MinBidIncrement == 10 && p.Title == "Sunset"
	})).Return(openRecord(t, owner), nil)

	req := CreateAuctionRequest{
		Title:           "Sunset",
		ItemRef:         "painting",
		ItemQty:         1,
		BidFloor:        50,
		EndTime:         t0.Add(time.Hour),
		BidderCap:       5,
		MinBidIncrement: 10,
	}
	res := do(t, h, http.MethodPost, "/auctions/open", &owner, req)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var v Auction
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &v))
	require.Equal(t, auction.ID("a1"), v.ID)
	require.Equal(t, "open", v.Kind)
	require.Equal(t, "bidding", v.Phase)
	require.Equal(t, owner, v.Owner)
	require.Equal(t, uint64(10), v.MinBidIncrement)
	require.Nil(t, v.HighestBidder)
	require.Empty(t, v.Bids)
	m.AssertExpectations(t)
}

func TestCreateRequiresIdentity(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	res := do(t, h, http.MethodPost, "/auctions/sealed", nil, CreateAuctionRequest{})
	require.Equal(t, http.StatusUnauthorized, res.Code)
	m.AssertNotCalled(t, "CreateSealedAuction", mock.Anything, mock.Anything)
}

func TestCreateRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, h := newTestHandler()
	owner := newParty(t)
	res := do(t, h, http.MethodPost, "/auctions/open", &owner, map[string]interface{}{"price": 1})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestGetSealedAuction(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	owner := newParty(t)
	bidder := newParty(t)
	rec := sealedRecord(t, owner)
	_, err := rec.Sealed.Commit(bidder, commitment.Commit(commitment.SHA256, 100, 1), 150, t0.Add(time.Minute))
	require.NoError(t, err)
	m.On("GetAuction", mock.Anything, auction.ID("s1")).Return(rec, nil)

	res := do(t, h, http.MethodGet, "/auctions/s1", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var v Auction
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &v))
	require.Equal(t, "sealed", v.Kind)
	require.Equal(t, "sha256", v.Hash)
	require.Equal(t, uint64(150), v.Escrowed)
	require.Len(t, v.Bids, 1)
	require.Equal(t, bidder, v.Bids[0].Bidder)
	require.Equal(t, "active", v.Bids[0].Status)
	require.NotNil(t, v.Bids[0].Commitment)
	require.Equal(t, rec.Sealed.Bids.Entries[bidder].Commitment, *v.Bids[0].Commitment)
}

func TestCommitDecodesDigest(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	owner := newParty(t)
	bidder := newParty(t)
	digest := commitment.Commit(commitment.SHA256, 100, 7)
	m.On("CommitBid", mock.Anything, auction.ID("s1"), bidder, digest, uint64(120)).
		Return(sealedRecord(t, owner), nil)

	res := do(t, h, http.MethodPost, "/auctions/s1/commit", &bidder, CommitRequest{Commitment: digest, Cover: 120})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	m.AssertExpectations(t)

	res = do(t, h, http.MethodPost, "/auctions/s1/commit", &bidder, map[string]interface{}{"commitment": "zz"})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestOperationErrors(t *testing.T) {
	t.Parallel()
	bidder := newParty(t)
	for _, tc := range []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: total 105", auction.ErrInsufficientIncrement), http.StatusBadRequest, "insufficient-increment"},
		{auction.ErrBidAfterClose, http.StatusConflict, "bid-after-close"},
		{auction.ErrBidderCapReached, http.StatusConflict, "bidder-cap-reached"},
		{auction.ErrOwnerCannotBid, http.StatusForbidden, "owner-cannot-bid"},
		{auction.ErrAuctionCancelled, http.StatusConflict, "auction-cancelled"},
		{store.ErrAuctionNotFound, http.StatusNotFound, ""},
		{fmt.Errorf("applying transfer: %w", ledger.ErrInsufficientFunds), http.StatusPaymentRequired, ""},
		{house.ErrWrongKind, http.StatusBadRequest, ""},
		{errors.New("disk on fire"), http.StatusInternalServerError, ""},
	} {
		tc := tc
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()
			m, h := newTestHandler()
			m.On("Bid", mock.Anything, auction.ID("a1"), bidder, uint64(105)).Return(nil, tc.err)

			res := do(t, h, http.MethodPost, "/auctions/a1/bid", &bidder, BidRequest{Amount: 105})
			require.Equal(t, tc.status, res.Code)
			var body Error
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
			require.Equal(t, tc.code, body.Code)
			require.Equal(t, tc.err.Error(), body.Error)
		})
	}
}

func TestNoBodyOperations(t *testing.T) {
	t.Parallel()
	caller := newParty(t)
	rec := openRecord(t, caller)
	for op, method := range map[string]string{
		"cancel":               "CancelAuction",
		"reclaim-bid":          "ReclaimBid",
		"withdraw-item":        "WithdrawItem",
		"withdraw-winning-bid": "WithdrawWinningBid",
		"reclaim-item":         "ReclaimItem",
	} {
		m, h := newTestHandler()
		m.On(method, mock.Anything, auction.ID("a1"), caller).Return(rec, nil)
		res := do(t, h, http.MethodPost, "/auctions/a1/"+op, &caller, nil)
		require.Equal(t, http.StatusOK, res.Code, op)
		m.AssertExpectations(t)
	}
}

func TestRouting(t *testing.T) {
	t.Parallel()
	caller := newParty(t)
	_, h := newTestHandler()

	res := do(t, h, http.MethodGet, "/auctions/a1/bid", &caller, nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
	res = do(t, h, http.MethodPost, "/auctions/a1/steal", &caller, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
	res = do(t, h, http.MethodPost, "/auctions/a1/bid/extra", &caller, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
	res = do(t, h, http.MethodDelete, "/auctions", &caller, nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestMutationsBuiltOnce(t *testing.T) {
	t.Parallel()

	a := newAPI(&mockHouse{}, HeaderAuthenticator{})
	ops := make([]string, 0, len(a.mutations))
	for op := range a.mutations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	require.Equal(t, []string{
		"bid", "cancel", "commit", "reclaim-bid", "reclaim-item", "reveal", "withdraw-item", "withdraw-winning-bid",
	}, ops)

	caller := newParty(t)
	m, h := newTestHandler()
	m.On("CancelAuction", mock.Anything, auction.ID("a1"), caller).Return(openRecord(t, caller), nil).Twice()
	for i := 0; i < 2; i++ {
		res := do(t, h, http.MethodPost, "/auctions/a1/cancel", &caller, nil)
		require.Equal(t, http.StatusOK, res.Code)
	}
	m.AssertExpectations(t)
}

func TestListAuctions(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	owner := newParty(t)
	sealed := auction.KindSealed
	m.On("ListAuctions", mock.Anything, store.Query{Limit: 5, Order: store.OrderAscending, Offset: "a0", Kind: &sealed}).
		Return([]store.Record{*sealedRecord(t, owner)}, nil)

	res := do(t, h, http.MethodGet, "/auctions?limit=5&order=asc&offset=a0&kind=sealed", nil, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var vs []Auction
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &vs))
	require.Len(t, vs, 1)
	require.Equal(t, auction.ID("s1"), vs[0].ID)

	for _, q := range []string{"limit=x", "order=sideways", "kind=dutch"} {
		res := do(t, h, http.MethodGet, "/auctions?"+q, nil, nil)
		require.Equal(t, http.StatusBadRequest, res.Code, q)
	}
}

func TestEscrow(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	m.On("Holding", mock.Anything, auction.ID("a1")).Return(ledger.Holding{Currency: 120, ItemQty: 1}, nil)

	res := do(t, h, http.MethodGet, "/auctions/a1/escrow", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var e Escrow
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &e))
	require.Equal(t, Escrow{AuctionID: "a1", Currency: 120, ItemQty: 1}, e)
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	m, h := newTestHandler()
	alice := newParty(t)
	bob := newParty(t)
	m.On("Deposit", mock.Anything, alice, uint64(500)).Return(nil)
	m.On("DepositItem", mock.Anything, alice, "painting", uint64(2)).Return(nil)
	m.On("Account", mock.Anything, alice).Return(ledger.Account{
		Party:    alice,
		Currency: 500,
		Items:    map[string]uint64{"painting": 2},
	}, nil)

	url := "/accounts/" + alice.String()
	res := do(t, h, http.MethodPost, url+"/deposit", &alice, DepositRequest{Amount: 500})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = do(t, h, http.MethodPost, url+"/deposit-item", &alice, DepositRequest{ItemRef: "painting", Qty: 2})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = do(t, h, http.MethodGet, url, &alice, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var acc Account
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &acc))
	require.Equal(t, uint64(500), acc.Currency)
	require.Equal(t, uint64(2), acc.Items["painting"])

	res = do(t, h, http.MethodGet, url, &bob, nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	res = do(t, h, http.MethodGet, "/accounts/not-base58!", &alice, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	m.AssertExpectations(t)
}

func TestJWTAuthenticator(t *testing.T) {
	t.Parallel()
	party := newParty(t)
	auth := NewJWTAuthenticator("s3cret")

	request := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return r
	}

	token, err := NewToken("s3cret", party, time.Hour)
	require.NoError(t, err)
	got, err := auth.Authenticate(request(token))
	require.NoError(t, err)
	require.Equal(t, party, got)

	_, err = auth.Authenticate(request(""))
	require.ErrorIs(t, err, ErrUnauthenticated)

	forged, err := NewToken("other", party, time.Hour)
	require.NoError(t, err)
	_, err = auth.Authenticate(request(forged))
	require.ErrorIs(t, err, ErrUnauthenticated)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   party.String(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(request(expired))
	require.ErrorIs(t, err, ErrUnauthenticated)

	garbage, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject: "not-a-party",
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(request(garbage))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHeaderAuthenticator(t *testing.T) {
	t.Parallel()
	party := newParty(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := HeaderAuthenticator{}.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set(PartyHeader, party.String())
	got, err := HeaderAuthenticator{}.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, party, got)
}

type mockHouse struct {
	mock.Mock
}

func (m *mockHouse) Now() time.Time {
	return m.Called().Get(0).(time.Time)
}

func (m *mockHouse) record(args mock.Arguments) (*store.Record, error) {
	r, _ := args.Get(0).(*store.Record)
	return r, args.Error(1)
}

func (m *mockHouse) CreateOpenAuction(ctx context.Context, p auction.OpenParams) (*store.Record, error) {
	return m.record(m.Called(ctx, p))
}

func (m *mockHouse) CreateSealedAuction(ctx context.Context, p auction.SealedParams) (*store.Record, error) {
	return m.record(m.Called(ctx, p))
}

func (m *mockHouse) CancelAuction(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return m.record(m.Called(ctx, id, caller))
}

func (m *mockHouse) Bid(ctx context.Context, id auction.ID, bidder auction.PartyID, amount uint64) (*store.Record, error) {
	return m.record(m.Called(ctx, id, bidder, amount))
}

func (m *mockHouse) CommitBid(
	ctx context.Context,
	id auction.ID,
	bidder auction.PartyID,
	digest commitment.Digest,
	cover uint64) (*store.Record, error) {
	return m.record(m.Called(ctx, id, bidder, digest, cover))
}

func (m *mockHouse) RevealBid(
	ctx context.Context,
	id auction.ID,
	bidder auction.PartyID,
	value, nonce uint64) (*store.Record, error) {
	return m.record(m.Called(ctx, id, bidder, value, nonce))
}

func (m *mockHouse) ReclaimBid(ctx context.Context, id auction.ID, bidder auction.PartyID) (*store.Record, error) {
	return m.record(m.Called(ctx, id, bidder))
}

func (m *mockHouse) WithdrawItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return m.record(m.Called(ctx, id, caller))
}

func (m *mockHouse) WithdrawWinningBid(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return m.record(m.Called(ctx, id, caller))
}

func (m *mockHouse) ReclaimItem(ctx context.Context, id auction.ID, caller auction.PartyID) (*store.Record, error) {
	return m.record(m.Called(ctx, id, caller))
}

func (m *mockHouse) GetAuction(ctx context.Context, id auction.ID) (*store.Record, error) {
	return m.record(m.Called(ctx, id))
}

func (m *mockHouse) ListAuctions(ctx context.Context, q store.Query) ([]store.Record, error) {
	args := m.Called(ctx, q)
	rs, _ := args.Get(0).([]store.Record)
	return rs, args.Error(1)
}

func (m *mockHouse) Deposit(ctx context.Context, p auction.PartyID, amount uint64) error {
	return m.Called(ctx, p, amount).Error(0)
}

func (m *mockHouse) DepositItem(ctx context.Context, p auction.PartyID, itemRef string, qty uint64) error {
	return m.Called(ctx, p, itemRef, qty).Error(0)
}

func (m *mockHouse) Account(ctx context.Context, p auction.PartyID) (ledger.Account, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(ledger.Account), args.Error(1)
}

func (m *mockHouse) Holding(ctx context.Context, id auction.ID) (ledger.Holding, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ledger.Holding), args.Error(1)
}
