// Package escrow defines the custody primitive auctions settle against.
package escrow

import (
	"context"
	"fmt"

	"github.com/textileio/auctionhouse/auction"
)

// Ledger holds currency and sale items on behalf of auctions.
type Ledger interface {
	// HoldCurrency moves amount from the party's balance into the auction's escrow.
	HoldCurrency(ctx context.Context, id auction.ID, from auction.PartyID, amount uint64) error
	// ReleaseCurrency pays amount out of the auction's escrow. It fails if the
	// auction holds less than amount.
	ReleaseCurrency(ctx context.Context, id auction.ID, to auction.PartyID, amount uint64) error
	// HoldItem moves qty units of itemRef from the party into escrow.
	HoldItem(ctx context.Context, id auction.ID, from auction.PartyID, itemRef string, qty uint64) error
	// ReleaseItem hands qty units of the escrowed item to the party.
	ReleaseItem(ctx context.Context, id auction.ID, to auction.PartyID, itemRef string, qty uint64) error
}

// Apply issues the transfers produced by an auction operation, in order. It
// stops at the first failure; callers run it inside the same transaction as
// the record update so that a failure leaves no partial effect.
func Apply(ctx context.Context, l Ledger, h *auction.Header, ts []auction.Transfer) error {
	for _, t := range ts {
		var err error
		switch t.Kind {
		case auction.TransferHoldCurrency:
			err = l.HoldCurrency(ctx, h.ID, t.Party, t.Amount)
		case auction.TransferReleaseCurrency:
			err = l.ReleaseCurrency(ctx, h.ID, t.Party, t.Amount)
		case auction.TransferHoldItem:
			err = l.HoldItem(ctx, h.ID, t.Party, h.ItemRef, t.Amount)
		case auction.TransferReleaseItem:
			err = l.ReleaseItem(ctx, h.ID, t.Party, h.ItemRef, t.Amount)
		default:
			err = fmt.Errorf("unknown transfer kind %d", t.Kind)
		}
		if err != nil {
			return fmt.Errorf("applying %s: %w", t, err)
		}
	}
	return nil
}
