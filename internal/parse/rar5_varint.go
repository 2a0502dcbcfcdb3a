package parse

import (
	"errors"
	"io"
)

// MaxRar5VarintLen is the longest RAR5 varint accepted (9 * 7 = 63 data bits).
const MaxRar5VarintLen = 9

var (
	// ErrBadVarint is returned for over-long or unterminated variable-length integers.
	ErrBadVarint = errors.New("varint too long or truncated")
)

// ReadVarintFromSlice reads a RAR5 varint from a byte slice.
func ReadVarintFromSlice(b []byte) (uint64, int64, error) {
	var val uint64
	var n int64
	for i := 0; i < len(b) && i < MaxRar5VarintLen; i++ {
		c := b[i]
		val |= uint64(c&0x7F) << (7 * i)
		n++
		if c&0x80 == 0 {
			return val, n, nil
		}
	}
	if n == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return 0, n, ErrBadVarint
}

// AppendVarint appends the RAR5 encoding of x to dst.
func AppendVarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}
