package auction

import (
	"sort"
	"time"

	"github.com/textileio/auctionhouse/auction/commitment"
)

// EntryStatus is the settlement state of a Bid Book entry.
type EntryStatus int

const (
	// EntryActive holds an open bid or an unrevealed commitment in escrow.
	EntryActive EntryStatus = iota
	// EntryRevealed is the currently winning revealed sealed bid.
	EntryRevealed
	// EntryReclaimed marks a tombstone of a bidder that took its escrow back.
	EntryReclaimed
	// EntryRefunded marks a tombstone of a sealed reveal refunded inline.
	EntryRefunded
	// EntryWithdrawn is a winning entry fully settled with the owner.
	EntryWithdrawn
)

func (s EntryStatus) String() string {
	switch s {
	case EntryActive:
		return "active"
	case EntryRevealed:
		return "revealed"
	case EntryReclaimed:
		return "reclaimed"
	case EntryRefunded:
		return "refunded"
	case EntryWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Outstanding reports whether the entry still has currency in escrow.
func (s EntryStatus) Outstanding() bool {
	return s == EntryActive || s == EntryRevealed
}

// Entry is one bidder's state in a Bid Book.
type Entry struct {
	Bidder PartyID
	// Amount is the currency currently escrowed for the bidder: the
	// cumulative bid in open auctions, the cover in sealed auctions.
	Amount uint64
	// Commitment is set for sealed bids.
	Commitment commitment.Digest
	// Value is the revealed sealed bid.
	Value     uint64
	Status    EntryStatus
	UpdatedAt time.Time
}

// Tombstone remembers a bidder whose entry left the book without winning.
type Tombstone struct {
	Bidder PartyID
	Status EntryStatus
}

// BidBook is a capacity-bounded set of bidder entries keyed by party id.
// Entries that leave escrow without winning are removed; the last Cap of them
// are kept as tombstones so repeated calls can be told apart from strangers.
// Only the winning entry stays in the book once settled.
type BidBook struct {
	Cap        int
	Entries    map[PartyID]*Entry
	Tombstones []Tombstone
}

// NewBidBook returns an empty book bounded by capacity.
func NewBidBook(capacity int) *BidBook {
	return &BidBook{Cap: capacity, Entries: make(map[PartyID]*Entry)}
}

// Get returns the bidder's entry.
func (b *BidBook) Get(bidder PartyID) (*Entry, bool) {
	e, ok := b.Entries[bidder]
	return e, ok
}

// Tombstone returns the most recent tombstone left by bidder.
func (b *BidBook) Tombstone(bidder PartyID) (EntryStatus, bool) {
	for i := len(b.Tombstones) - 1; i >= 0; i-- {
		if b.Tombstones[i].Bidder == bidder {
			return b.Tombstones[i].Status, true
		}
	}
	return 0, false
}

// Len is the number of entries occupying capacity.
func (b *BidBook) Len() int {
	n := 0
	for _, e := range b.Entries {
		if e.Status.Outstanding() {
			n++
		}
	}
	return n
}

// Full reports whether a new bidder would exceed capacity.
func (b *BidBook) Full() bool {
	return b.Len() >= b.Cap
}

// Put inserts or replaces the bidder's entry.
func (b *BidBook) Put(e *Entry) {
	if b.Entries == nil {
		b.Entries = make(map[PartyID]*Entry)
	}
	b.Entries[e.Bidder] = e
}

// Remove deletes the bidder's entry and leaves a tombstone with status,
// dropping the oldest tombstone beyond capacity.
func (b *BidBook) Remove(bidder PartyID, status EntryStatus) {
	delete(b.Entries, bidder)
	b.Tombstones = append(b.Tombstones, Tombstone{Bidder: bidder, Status: status})
	if n := len(b.Tombstones) - b.Cap; n > 0 {
		b.Tombstones = append([]Tombstone(nil), b.Tombstones[n:]...)
	}
}

// missing explains why bidder has no entry.
func (b *BidBook) missing(bidder PartyID) error {
	if _, ok := b.Tombstone(bidder); ok {
		return ErrAlreadyReclaimed
	}
	return ErrNotBidder
}

// Escrowed sums the amounts of outstanding entries.
func (b *BidBook) Escrowed() uint64 {
	var sum uint64
	for _, e := range b.Entries {
		if e.Status.Outstanding() {
			sum += e.Amount
		}
	}
	return sum
}

// List returns a copy of all entries ordered by bidder id.
func (b *BidBook) List() []Entry {
	es := make([]Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		es = append(es, *e)
	}
	sort.Slice(es, func(i, j int) bool {
		return string(es[i].Bidder[:]) < string(es[j].Bidder[:])
	})
	return es
}

// Clone returns a deep copy of the book.
func (b *BidBook) Clone() *BidBook {
	c := &BidBook{
		Cap:        b.Cap,
		Entries:    make(map[PartyID]*Entry, len(b.Entries)),
		Tombstones: append([]Tombstone(nil), b.Tombstones...),
	}
	for k, e := range b.Entries {
		cp := *e
		c.Entries[k] = &cp
	}
	return c
}
