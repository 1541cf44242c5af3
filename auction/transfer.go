package auction

import "fmt"

// TransferKind is the escrow primitive a Transfer maps to.
type TransferKind int

const (
	// TransferHoldCurrency moves currency from Party into escrow.
	TransferHoldCurrency TransferKind = iota
	// TransferReleaseCurrency pays currency from escrow to Party.
	TransferReleaseCurrency
	// TransferHoldItem moves the item from Party into escrow.
	TransferHoldItem
	// TransferReleaseItem hands the escrowed item to Party.
	TransferReleaseItem
)

func (k TransferKind) String() string {
	switch k {
	case TransferHoldCurrency:
		return "hold-currency"
	case TransferReleaseCurrency:
		return "release-currency"
	case TransferHoldItem:
		return "hold-item"
	case TransferReleaseItem:
		return "release-item"
	default:
		return "unknown"
	}
}

// Transfer is an escrow intent produced by an operation. For item transfers
// Amount is the item quantity. An operation's transfers must be applied in
// the order they are returned, and together with the record update.
type Transfer struct {
	Kind   TransferKind
	Party  PartyID
	Amount uint64
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %d %s", t.Kind, t.Amount, t.Party)
}

func holdCurrency(from PartyID, amount uint64) Transfer {
	return Transfer{Kind: TransferHoldCurrency, Party: from, Amount: amount}
}

func releaseCurrency(to PartyID, amount uint64) Transfer {
	return Transfer{Kind: TransferReleaseCurrency, Party: to, Amount: amount}
}

// Balance sums currency held minus currency released over ts.
func Balance(ts []Transfer) (held, released uint64) {
	for _, t := range ts {
		switch t.Kind {
		case TransferHoldCurrency:
			held += t.Amount
		case TransferReleaseCurrency:
			released += t.Amount
		}
	}
	return held, released
}
