package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utf16le(units ...uint16) []byte {
	b := make([]byte, 0, len(units)*2)
	for _, u := range units {
		b = append(b, byte(u), byte(u>>8))
	}
	return b
}

func TestDecodeUTF16LESimple(t *testing.T) {
	got, err := DecodeUTF16LE(utf16le('a', 'b', 'c'))
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestDecodeUTF16LEBMPAndPairs(t *testing.T) {
	got, err := DecodeUTF16LE(utf16le(0x0444, '.', 0xD83D, 0xDE00))
	require.NoError(t, err)
	assert.Equal(t, "ф.😀", got)
}

func TestDecodeUTF16LEUnpaired(t *testing.T) {
	for _, in := range [][]byte{
		utf16le('x', 0xD83D),
		utf16le(0xDE00, 'x'),
		utf16le(0xD83D, 'x'),
	} {
		_, err := DecodeUTF16LE(in)
		assert.ErrorIs(t, err, ErrUnpairedSurrogate, "% x", in)
	}
}

func TestDecodeUTF16LEOddTrailingByteIgnored(t *testing.T) {
	got, err := DecodeUTF16LE(append(utf16le('o', 'k'), 0x41))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
