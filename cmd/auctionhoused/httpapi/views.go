package httpapi

import (
	"time"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/ledger"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/store"
)

// CreateAuctionRequest creates an open or a sealed auction. The owner is the
// caller. Sealed-only fields are ignored for open auctions and vice versa.
type CreateAuctionRequest struct {
	Title     string    `json:"title"`
	ItemRef   string    `json:"item_ref"`
	ItemQty   uint64    `json:"item_qty"`
	BidFloor  uint64    `json:"bid_floor"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time"`
	BidderCap int       `json:"bidder_cap"`

	MinBidIncrement uint64 `json:"min_bid_increment,omitempty"`

	RevealDeadline time.Time `json:"reveal_deadline,omitempty"`
	FirstPrice     bool      `json:"first_price,omitempty"`
	Hash           string    `json:"hash,omitempty"`
}

func (r CreateAuctionRequest) createParams(owner auction.PartyID) auction.CreateParams {
	return auction.CreateParams{
		Owner:     owner,
		Title:     r.Title,
		ItemRef:   r.ItemRef,
		ItemQty:   r.ItemQty,
		BidFloor:  r.BidFloor,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		BidderCap: r.BidderCap,
	}
}

// BidRequest tops up an open bid.
type BidRequest struct {
	Amount uint64 `json:"amount"`
}

// CommitRequest places a sealed bid.
type CommitRequest struct {
	Commitment commitment.Digest `json:"commitment"`
	Cover      uint64            `json:"cover"`
}

// RevealRequest opens a sealed bid.
type RevealRequest struct {
	Value uint64 `json:"value"`
	Nonce uint64 `json:"nonce"`
}

// DepositRequest credits currency or, when ItemRef is set, items.
type DepositRequest struct {
	Amount  uint64 `json:"amount,omitempty"`
	ItemRef string `json:"item_ref,omitempty"`
	Qty     uint64 `json:"qty,omitempty"`
}

// Auction is the JSON view of an auction.
type Auction struct {
	ID         auction.ID      `json:"id"`
	Kind       string          `json:"kind"`
	Phase      string          `json:"phase"`
	Owner      auction.PartyID `json:"owner"`
	Title      string          `json:"title"`
	ItemRef    string          `json:"item_ref"`
	ItemQty    uint64          `json:"item_qty"`
	ItemStatus string          `json:"item_status"`
	BidFloor   uint64          `json:"bid_floor"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	BidderCap  int             `json:"bidder_cap"`
	Cancelled  bool            `json:"cancelled"`
	CreatedAt  time.Time       `json:"created_at"`

	HighestBid    uint64           `json:"highest_bid"`
	HighestBidder *auction.PartyID `json:"highest_bidder,omitempty"`
	Escrowed      uint64           `json:"escrowed"`
	Bids          []Bid            `json:"bids"`

	MinBidIncrement uint64 `json:"min_bid_increment,omitempty"`

	RevealDeadline      *time.Time `json:"reveal_deadline,omitempty"`
	FirstPrice          bool       `json:"first_price,omitempty"`
	Hash                string     `json:"hash,omitempty"`
	SecondHighestBid    uint64     `json:"second_highest_bid,omitempty"`
	SettlementPrice     uint64     `json:"settlement_price,omitempty"`
	WinningBidWithdrawn bool       `json:"winning_bid_withdrawn,omitempty"`
}

// Bid is the JSON view of a Bid Book entry.
type Bid struct {
	Bidder     auction.PartyID    `json:"bidder"`
	Amount     uint64             `json:"amount"`
	Status     string             `json:"status"`
	Commitment *commitment.Digest `json:"commitment,omitempty"`
	Value      uint64             `json:"value,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Account is the JSON view of a party's balances.
type Account struct {
	Party    auction.PartyID   `json:"party"`
	Currency uint64            `json:"currency"`
	Items    map[string]uint64 `json:"items"`
}

// Escrow is the JSON view of an auction's custody.
type Escrow struct {
	AuctionID auction.ID `json:"auction_id"`
	Currency  uint64     `json:"currency"`
	ItemQty   uint64     `json:"item_qty"`
}

// Error is the JSON body of a failed request.
type Error struct {
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

func auctionView(r *store.Record, now time.Time) Auction {
	h := r.Header()
	a := r.Auction()
	v := Auction{
		ID:         h.ID,
		Kind:       h.Kind.String(),
		Phase:      a.Phase(now).String(),
		Owner:      h.Owner,
		Title:      h.Title,
		ItemRef:    h.ItemRef,
		ItemQty:    h.ItemQty,
		ItemStatus: h.ItemStatus.String(),
		BidFloor:   h.BidFloor,
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		BidderCap:  h.BidderCap,
		Cancelled:  h.Cancelled,
		CreatedAt:  h.CreatedAt,
		Escrowed:   a.Escrowed(),
	}

	var (
		book   *auction.BidBook
		leader auction.PartyID
	)
	if o := r.Open; o != nil {
		v.MinBidIncrement = o.MinBidIncrement
		v.HighestBid = o.HighestBid
		leader = o.HighestBidder
		book = o.Bids
	} else {
		s := r.Sealed
		deadline := s.RevealDeadline
		v.RevealDeadline = &deadline
		v.FirstPrice = s.FirstPrice
		v.Hash = s.Hash
		v.HighestBid = s.HighestBid
		v.SecondHighestBid = s.SecondHighestBid
		v.WinningBidWithdrawn = s.WinningBidWithdrawn
		if s.HighestBid > 0 {
			v.SettlementPrice = s.SettlementPrice()
		}
		leader = s.HighestBidder
		book = s.Bids
	}
	if v.HighestBid > 0 {
		v.HighestBidder = &leader
	}
	v.Bids = []Bid{}
	for _, e := range book.List() {
		b := Bid{
			Bidder:    e.Bidder,
			Amount:    e.Amount,
			Status:    e.Status.String(),
			Value:     e.Value,
			UpdatedAt: e.UpdatedAt,
		}
		if !e.Commitment.IsZero() {
			d := e.Commitment
			b.Commitment = &d
		}
		v.Bids = append(v.Bids, b)
	}
	return v
}

func accountView(a ledger.Account) Account {
	items := a.Items
	if items == nil {
		items = map[string]uint64{}
	}
	return Account{Party: a.Party, Currency: a.Currency, Items: items}
}
