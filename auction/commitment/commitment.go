// Package commitment binds a sealed bid value to a nonce without revealing
// either until reveal time.
package commitment

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/minio/sha256-simd"
)

// DigestLen is the width of a commitment digest.
const DigestLen = 32

// Digest is a commitment hash. Its text form is 0x-prefixed hex.
type Digest [DigestLen]byte

// IsZero reports whether d is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hexutil.Encode(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("decoding digest: %s", err)
	}
	if len(b) != DigestLen {
		return fmt.Errorf("digest is %d bytes, want %d", len(b), DigestLen)
	}
	copy(d[:], b)
	return nil
}

// ParseDigest decodes the text form of a digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	err := d.UnmarshalText([]byte(s))
	return d, err
}

// Hasher is a 32-byte hash function.
type Hasher interface {
	Name() string
	Sum(data []byte) Digest
}

type hasherFunc struct {
	name string
	sum  func([]byte) Digest
}

func (h hasherFunc) Name() string           { return h.name }
func (h hasherFunc) Sum(data []byte) Digest { return h.sum(data) }

var (
	// SHA256 is the default commitment hasher.
	SHA256 Hasher = hasherFunc{name: "sha256", sum: func(b []byte) Digest {
		return sha256.Sum256(b)
	}}
	// Keccak256 matches commitments produced by EVM tooling.
	Keccak256 Hasher = hasherFunc{name: "keccak256", sum: func(b []byte) Digest {
		var d Digest
		copy(d[:], crypto.Keccak256(b))
		return d
	}}
)

// HasherByName returns the hasher registered under name.
func HasherByName(name string) (Hasher, error) {
	switch name {
	case SHA256.Name(), "":
		return SHA256, nil
	case Keccak256.Name():
		return Keccak256, nil
	default:
		return nil, fmt.Errorf("unknown commitment hash %q", name)
	}
}

// Preimage is the byte string a commitment is computed over: the bid value
// followed by the nonce, both as 8-byte little-endian integers.
func Preimage(value, nonce uint64) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], value)
	binary.LittleEndian.PutUint64(b[8:], nonce)
	return b[:]
}

// Commit computes the commitment to (value, nonce).
func Commit(h Hasher, value, nonce uint64) Digest {
	return h.Sum(Preimage(value, nonce))
}

// Verify reports whether (value, nonce) opens the commitment d.
func Verify(h Hasher, value, nonce uint64, d Digest) bool {
	c := Commit(h, value, nonce)
	return subtle.ConstantTimeCompare(c[:], d[:]) == 1
}
