package parse

import "io"

// ReadSzNumberFromSlice reads a 7z "UINT64" number. The count of leading one
// bits in the first byte gives the number of extra little-endian bytes; the
// remaining low bits of the first byte are the most significant part.
//
//	0xxxxxxx            : xxxxxxx
//	10xxxxxx y[1]       : xxxxxx << 8 + y
//	...
//	11111110 y[7]       : y
//	11111111 y[8]       : y
func ReadSzNumberFromSlice(b []byte) (uint64, int64, error) {
	if len(b) == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	first := b[0]
	mask := byte(0x80)
	var val uint64
	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			high := uint64(first & (mask - 1))
			val |= high << (8 * i)
			return val, int64(i) + 1, nil
		}
		if i+1 >= len(b) {
			return 0, int64(len(b)), ErrBadVarint
		}
		val |= uint64(b[i+1]) << (8 * i)
		mask >>= 1
	}
	return val, 9, nil
}

// AppendSzNumber appends the shortest 7z encoding of x to dst.
func AppendSzNumber(dst []byte, x uint64) []byte {
	for n := 0; n < 8; n++ {
		// n extra bytes carry 8*n bits, the first byte keeps 7-n more.
		if x < uint64(1)<<(8*n+7-n) {
			prefix := byte(0xFF << (8 - n))
			first := prefix | byte(x>>(8*n))
			dst = append(dst, first)
			for i := 0; i < n; i++ {
				dst = append(dst, byte(x>>(8*i)))
			}
			return dst
		}
	}
	dst = append(dst, 0xFF)
	for i := 0; i < 8; i++ {
		dst = append(dst, byte(x>>(8*i)))
	}
	return dst
}
