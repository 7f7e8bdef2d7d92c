package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	signMask uint64 = 0x8000000000000000

	intLen = 8
)

// EncodeInt encodes v so that encoded values sort in the same order as the integers, negative ones included. Keys
// of the table are compared bytewise, so integer keys must go through here to scan in numeric order.
func EncodeInt(v int64) []byte {
	return AppendInt(make([]byte, 0, intLen), v)
}

// AppendInt appends the encoded v to b.
func AppendInt(b []byte, v int64) []byte {
	var data [intLen]byte
	binary.BigEndian.PutUint64(data[:], uint64(v)^signMask)
	return append(b, data[:]...)
}

// DecodeInt decodes a value written by EncodeInt and returns the leftover bytes.
func DecodeInt(b []byte) ([]byte, int64, error) {
	if len(b) < intLen {
		return nil, 0, errors.Errorf("insufficient bytes to decode int, got %d", len(b))
	}
	u := binary.BigEndian.Uint64(b[:intLen]) ^ signMask
	return b[intLen:], int64(u), nil
}

// MustDecodeInt decodes b, which must be exactly one encoded int.
func MustDecodeInt(b []byte) int64 {
	left, v, err := DecodeInt(b)
	if err != nil {
		panic(err)
	}
	if len(left) != 0 {
		panic(errors.Errorf("%d trailing bytes after encoded int", len(left)))
	}
	return v
}
