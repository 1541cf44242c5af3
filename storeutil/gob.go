// Package storeutil holds helpers shared by datastore-backed stores.
package storeutil

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

// EncodeGob encodes v with encoding/gob.
func EncodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeGob decodes b into v.
func DecodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// EncodeUint64 encodes n as 8 big-endian bytes.
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeUint64 decodes the output of EncodeUint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
