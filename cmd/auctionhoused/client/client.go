// Package client is a Go client for the auctionhoused HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/httpapi"
)

// Client provides the client api.
type Client struct {
	addr  string
	hc    *http.Client
	token string
	party *auction.PartyID
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithParty sends the caller identity in the clear, for daemons running
// without authentication.
func WithParty(p auction.PartyID) Option {
	return func(c *Client) {
		c.party = &p
	}
}

// WithHTTPClient sets the underlying http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// New returns a new client for the API served at addr.
func New(addr string, opts ...Option) (*Client, error) {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, fmt.Errorf("parsing address: %s", err)
	}
	c := &Client{addr: strings.TrimRight(addr, "/"), hc: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a request refused by the daemon. Domain refusals match their
// auction sentinel with errors.Is.
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Unwrap returns the domain error matching the error code, if any.
func (e *APIError) Unwrap() error {
	if de, ok := auction.ErrorByCode(e.Code); ok {
		return de
	}
	return nil
}

// CreateOpenAuction creates an open auction owned by the caller.
func (c *Client) CreateOpenAuction(ctx context.Context, req httpapi.CreateAuctionRequest) (httpapi.Auction, error) {
	var a httpapi.Auction
	err := c.do(ctx, http.MethodPost, "/auctions/open", req, &a)
	return a, err
}

// CreateSealedAuction creates a sealed auction owned by the caller.
func (c *Client) CreateSealedAuction(ctx context.Context, req httpapi.CreateAuctionRequest) (httpapi.Auction, error) {
	var a httpapi.Auction
	err := c.do(ctx, http.MethodPost, "/auctions/sealed", req, &a)
	return a, err
}

// GetAuction returns an auction.
func (c *Client) GetAuction(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	var a httpapi.Auction
	err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(string(id)), nil, &a)
	return a, err
}

// ListQuery filters and paginates ListAuctions.
type ListQuery struct {
	Offset    string
	Limit     int
	Ascending bool
	Kind      string
}

// ListAuctions lists auctions.
func (c *Client) ListAuctions(ctx context.Context, q ListQuery) ([]httpapi.Auction, error) {
	vals := url.Values{}
	if q.Offset != "" {
		vals.Set("offset", q.Offset)
	}
	if q.Limit != 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Ascending {
		vals.Set("order", "asc")
	}
	if q.Kind != "" {
		vals.Set("kind", q.Kind)
	}
	path := "/auctions"
	if len(vals) > 0 {
		path += "?" + vals.Encode()
	}
	var as []httpapi.Auction
	err := c.do(ctx, http.MethodGet, path, nil, &as)
	return as, err
}

// CancelAuction cancels an auction owned by the caller.
func (c *Client) CancelAuction(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	return c.operation(ctx, id, "cancel", nil)
}

// Bid tops up the caller's bid in an open auction.
func (c *Client) Bid(ctx context.Context, id auction.ID, amount uint64) (httpapi.Auction, error) {
	return c.operation(ctx, id, "bid", httpapi.BidRequest{Amount: amount})
}

// CommitBid places a sealed bid bound by digest.
func (c *Client) CommitBid(ctx context.Context, id auction.ID, digest commitment.Digest, cover uint64) (httpapi.Auction, error) {
	return c.operation(ctx, id, "commit", httpapi.CommitRequest{Commitment: digest, Cover: cover})
}

// RevealBid opens the caller's sealed bid.
func (c *Client) RevealBid(ctx context.Context, id auction.ID, value, nonce uint64) (httpapi.Auction, error) {
	return c.operation(ctx, id, "reveal", httpapi.RevealRequest{Value: value, Nonce: nonce})
}

// ReclaimBid refunds the caller's escrowed bid.
func (c *Client) ReclaimBid(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	return c.operation(ctx, id, "reclaim-bid", nil)
}

// WithdrawItem delivers the item to the winning caller.
func (c *Client) WithdrawItem(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	return c.operation(ctx, id, "withdraw-item", nil)
}

// WithdrawWinningBid pays the winning bid to the owner.
func (c *Client) WithdrawWinningBid(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	return c.operation(ctx, id, "withdraw-winning-bid", nil)
}

// ReclaimItem returns an unsold item to the owner.
func (c *Client) ReclaimItem(ctx context.Context, id auction.ID) (httpapi.Auction, error) {
	return c.operation(ctx, id, "reclaim-item", nil)
}

// Escrow returns what an auction holds in custody.
func (c *Client) Escrow(ctx context.Context, id auction.ID) (httpapi.Escrow, error) {
	var e httpapi.Escrow
	err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(string(id))+"/escrow", nil, &e)
	return e, err
}

// Account returns the balances of party.
func (c *Client) Account(ctx context.Context, party auction.PartyID) (httpapi.Account, error) {
	var a httpapi.Account
	err := c.do(ctx, http.MethodGet, "/accounts/"+party.String(), nil, &a)
	return a, err
}

// Deposit credits currency to party's account.
func (c *Client) Deposit(ctx context.Context, party auction.PartyID, amount uint64) (httpapi.Account, error) {
	var a httpapi.Account
	err := c.do(ctx, http.MethodPost, "/accounts/"+party.String()+"/deposit", httpapi.DepositRequest{Amount: amount}, &a)
	return a, err
}

// DepositItem credits items to party's account.
func (c *Client) DepositItem(ctx context.Context, party auction.PartyID, itemRef string, qty uint64) (httpapi.Account, error) {
	var a httpapi.Account
	req := httpapi.DepositRequest{ItemRef: itemRef, Qty: qty}
	err := c.do(ctx, http.MethodPost, "/accounts/"+party.String()+"/deposit-item", req, &a)
	return a, err
}

func (c *Client) operation(ctx context.Context, id auction.ID, op string, body interface{}) (httpapi.Auction, error) {
	var a httpapi.Auction
	err := c.do(ctx, http.MethodPost, "/auctions/"+url.PathEscape(string(id))+"/"+op, body, &a)
	return a, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %s", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.party != nil {
		req.Header.Set(httpapi.PartyHeader, c.party.String())
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %s", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: res.StatusCode}
		var e httpapi.Error
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			apiErr.Message = http.StatusText(res.StatusCode)
		} else {
			apiErr.Code = e.Code
			apiErr.Kind = e.Kind
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %s", err)
	}
	return nil
}
