package util

import (
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrUnpairedSurrogate is returned when a UTF-16 sequence contains a lone
// surrogate half.
var ErrUnpairedSurrogate = errors.New("unpaired utf-16 surrogate")

// DecodeUTF16LE converts little-endian UTF-16 code units to UTF-8. Unlike
// golang.org/x/text decoders it does not substitute U+FFFD: any unpaired
// surrogate fails the whole name. NUL code units are dropped.
func DecodeUTF16LE(b []byte) (string, error) {
	out := make([]byte, 0, len(b)*3/2)
	n := len(b) / 2
	for i := 0; i < n; i++ {
		u := uint16(b[2*i]) | uint16(b[2*i+1])<<8
		r := rune(u)
		switch {
		case utf16.IsSurrogate(r):
			if r >= 0xDC00 || i+1 >= n {
				return "", ErrUnpairedSurrogate
			}
			lo := rune(uint16(b[2*i+2]) | uint16(b[2*i+3])<<8)
			r = utf16.DecodeRune(r, lo)
			if r == utf8.RuneError {
				return "", ErrUnpairedSurrogate
			}
			i++
		case r == 0:
			continue
		}
		out = utf8.AppendRune(out, r)
	}
	return string(out), nil
}
