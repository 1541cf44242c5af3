package auction

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PartyIDLen is the width in bytes of a party identifier.
const PartyIDLen = 32

// PartyID is the authenticated identity of an auction participant. Its text
// form is base58.
type PartyID [PartyIDLen]byte

// ErrInvalidPartyID indicates a malformed party identifier.
var ErrInvalidPartyID = errors.New("invalid party id")

// ParsePartyID decodes the base58 text form of a party id.
func ParsePartyID(s string) (PartyID, error) {
	var p PartyID
	b, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("%w: %s", ErrInvalidPartyID, err)
	}
	if len(b) != PartyIDLen {
		return p, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPartyID, len(b), PartyIDLen)
	}
	copy(p[:], b)
	return p, nil
}

// IsZero reports whether p is the zero identity, which is never a valid party.
func (p PartyID) IsZero() bool {
	return p == PartyID{}
}

func (p PartyID) String() string {
	return base58.Encode(p[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p PartyID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PartyID) UnmarshalText(text []byte) error {
	parsed, err := ParsePartyID(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
