// Package auction implements the bidding and settlement state machines of
// open ascending auctions and sealed commit-reveal auctions.
//
// The package is pure: every operation receives the current time, validates
// all of its preconditions before touching the record, and returns the escrow
// transfers the caller must apply together with the mutated record.
package auction

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// ID is a unique identifier for an auction.
type ID string

// Kind is the protocol an auction follows.
type Kind int

const (
	// KindOpen is an ascending, public bid auction.
	KindOpen Kind = iota
	// KindSealed is a commit-reveal auction.
	KindSealed
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// KindByString finds a kind by its string representation.
func KindByString(s string) (Kind, error) {
	switch s {
	case "open":
		return KindOpen, nil
	case "sealed":
		return KindSealed, nil
	default:
		return 0, fmt.Errorf("unknown auction kind %q", s)
	}
}

// Phase is the lifecycle phase of an auction at a point in time.
type Phase int

const (
	// PhaseCreated precedes start_time.
	PhaseCreated Phase = iota
	// PhaseBidding accepts bids (open) or commitments (sealed).
	PhaseBidding
	// PhaseReveal accepts reveals of sealed commitments.
	PhaseReveal
	// PhaseClosed only accepts settlement calls.
	PhaseClosed
	// PhaseCancelled only accepts refunds.
	PhaseCancelled
)

var phaseStrings = map[Phase]string{
	PhaseCreated:   "created",
	PhaseBidding:   "bidding",
	PhaseReveal:    "reveal",
	PhaseClosed:    "closed",
	PhaseCancelled: "cancelled",
}

func (p Phase) String() string {
	if s, ok := phaseStrings[p]; ok {
		return s
	}
	return "unknown"
}

// ItemStatus tracks the custody of the sale item.
type ItemStatus int

const (
	// ItemEscrowed means the item is held by the auction.
	ItemEscrowed ItemStatus = iota
	// ItemDelivered means the item was withdrawn by the winner.
	ItemDelivered
	// ItemReturned means the item was reclaimed by the owner.
	ItemReturned
)

func (s ItemStatus) String() string {
	switch s {
	case ItemEscrowed:
		return "escrowed"
	case ItemDelivered:
		return "delivered"
	case ItemReturned:
		return "returned"
	default:
		return "unknown"
	}
}

// DefaultMaxTitleLen is the default bound on auction titles, in characters.
const DefaultMaxTitleLen = 50

// Limits are operator-configured bounds applied at creation.
type Limits struct {
	MaxTitleLen  int
	MaxBidderCap int
}

// DefaultLimits returns the default creation limits.
func DefaultLimits() Limits {
	return Limits{MaxTitleLen: DefaultMaxTitleLen, MaxBidderCap: 1000}
}

// Clock is the source of the current time. Implementations must be
// monotonically non-decreasing.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Header holds the fields shared by both auction kinds. Cancelled and
// ItemStatus are the only fields that change after creation.
type Header struct {
	ID         ID
	Kind       Kind
	Owner      PartyID
	Title      string
	ItemRef    string
	ItemQty    uint64
	BidFloor   uint64
	StartTime  time.Time
	EndTime    time.Time
	BidderCap  int
	Cancelled  bool
	ItemStatus ItemStatus
	CreatedAt  time.Time
}

// CreateParams are the arguments shared by both creation operations. A zero
// StartTime means the auction starts at creation time.
type CreateParams struct {
	Owner     PartyID
	Title     string
	ItemRef   string
	ItemQty   uint64
	BidFloor  uint64
	StartTime time.Time
	EndTime   time.Time
	BidderCap int
}

// MaxItemRefLen bounds the length of an item reference.
const MaxItemRefLen = 64

// ValidateItemRef checks that ref is usable as a single storage key segment:
// letters, digits and "-_.:" only, and not "." or "..".
func ValidateItemRef(ref string) error {
	if ref == "" {
		return errorf(ErrInvalidItemRef, "empty")
	}
	if len(ref) > MaxItemRefLen {
		return errorf(ErrInvalidItemRef, "longer than %d", MaxItemRefLen)
	}
	if ref == "." || ref == ".." {
		return errorf(ErrInvalidItemRef, "%q", ref)
	}
	for _, c := range ref {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return errorf(ErrInvalidItemRef, "%q has forbidden character %q", ref, c)
		}
	}
	return nil
}

func newHeader(id ID, kind Kind, p CreateParams, lim Limits, now time.Time) (Header, error) {
	if n := utf8.RuneCountInString(p.Title); n > lim.MaxTitleLen {
		return Header{}, errorf(ErrTitleTooLong, "%d > %d", n, lim.MaxTitleLen)
	}
	if p.Owner.IsZero() {
		return Header{}, ErrInvalidOwner
	}
	if err := ValidateItemRef(p.ItemRef); err != nil {
		return Header{}, err
	}
	if p.ItemQty == 0 {
		return Header{}, ErrZeroItemQty
	}
	if p.BidFloor == 0 {
		return Header{}, ErrZeroFloor
	}
	if p.BidderCap < 1 || (lim.MaxBidderCap > 0 && p.BidderCap > lim.MaxBidderCap) {
		return Header{}, errorf(ErrInvalidBidderCap, "%d not in [1, %d]", p.BidderCap, lim.MaxBidderCap)
	}
	start := p.StartTime
	if start.IsZero() {
		start = now
	}
	if !start.Before(p.EndTime) {
		return Header{}, ErrInvalidTimeOrder
	}
	if start.After(now) {
		return Header{}, ErrInvalidStartTime
	}
	if !now.Before(p.EndTime) {
		return Header{}, ErrInvalidEndTime
	}
	return Header{
		ID:         id,
		Kind:       kind,
		Owner:      p.Owner,
		Title:      p.Title,
		ItemRef:    p.ItemRef,
		ItemQty:    p.ItemQty,
		BidFloor:   p.BidFloor,
		StartTime:  start,
		EndTime:    p.EndTime,
		BidderCap:  p.BidderCap,
		ItemStatus: ItemEscrowed,
		CreatedAt:  now,
	}, nil
}

// checkBidWindow enforces the bidding window shared by open bids and sealed
// commitments.
func (h *Header) checkBidWindow(bidder PartyID, now time.Time) error {
	if h.Cancelled {
		return ErrAuctionCancelled
	}
	if !now.After(h.StartTime) {
		return ErrBidBeforeStart
	}
	if !now.Before(h.EndTime) {
		return ErrBidAfterClose
	}
	if bidder == h.Owner {
		return ErrOwnerCannotBid
	}
	return nil
}

func (h *Header) cancel(caller PartyID, now time.Time) error {
	if caller != h.Owner {
		return ErrNotOwner
	}
	if !now.Before(h.EndTime) {
		return ErrAuctionOver
	}
	h.Cancelled = true
	return nil
}

func (h *Header) checkItemInEscrow() error {
	switch h.ItemStatus {
	case ItemDelivered, ItemReturned:
		return errorf(ErrAlreadyWithdrawn, "item %s", h.ItemStatus)
	}
	return nil
}

func (h *Header) holdItem() Transfer {
	return Transfer{Kind: TransferHoldItem, Party: h.Owner, Amount: h.ItemQty}
}

func (h *Header) releaseItem(to PartyID) Transfer {
	return Transfer{Kind: TransferReleaseItem, Party: to, Amount: h.ItemQty}
}

// Auction is the behaviour shared by open and sealed auctions.
type Auction interface {
	Base() *Header
	Phase(now time.Time) Phase
	Cancel(caller PartyID, now time.Time) error
	ReclaimBid(bidder PartyID, now time.Time) ([]Transfer, error)
	WithdrawItem(caller PartyID, now time.Time) ([]Transfer, error)
	WithdrawWinningBid(caller PartyID, now time.Time) ([]Transfer, error)
	ReclaimItem(caller PartyID, now time.Time) ([]Transfer, error)
	Escrowed() uint64
}

var (
	_ Auction = (*OpenAuction)(nil)
	_ Auction = (*SealedAuction)(nil)
)

// Base returns the header itself.
func (h *Header) Base() *Header { return h }
