package aescrypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrengthSizes(t *testing.T) {
	assert.Equal(t, 16, AES128.KeyLen())
	assert.Equal(t, 24, AES192.KeyLen())
	assert.Equal(t, 32, AES256.KeyLen())
	assert.Equal(t, 8, AES128.SaltLen())
	assert.Equal(t, 12, AES192.SaltLen())
	assert.Equal(t, 16, AES256.SaltLen())
	assert.False(t, Strength(0).Valid())
	assert.False(t, Strength(4).Valid())
}

func TestDeriveKeysSplit(t *testing.T) {
	salt := bytes.Repeat([]byte{0x11}, AES256.SaltLen())
	k, err := DeriveKeys("secret", salt, AES256)
	require.NoError(t, err)
	assert.Len(t, k.Enc, 32)
	assert.Len(t, k.Auth, 32)
	assert.Len(t, k.Verifier, VerifierLen)
	assert.NotEqual(t, k.Enc, k.Auth)

	again, err := DeriveKeys("secret", salt, AES256)
	require.NoError(t, err)
	assert.Equal(t, k, again)

	other, err := DeriveKeys("Secret", salt, AES256)
	require.NoError(t, err)
	assert.NotEqual(t, k.Enc, other.Enc)
}

func TestDeriveKeysRejects(t *testing.T) {
	_, err := DeriveKeys("pw", make([]byte, 16), Strength(9))
	assert.ErrorIs(t, err, ErrStrength)
	_, err = DeriveKeys("pw", make([]byte, 8), AES256)
	assert.Error(t, err)
}

func TestCTRRoundTripAndAuth(t *testing.T) {
	salt := bytes.Repeat([]byte{0x42}, AES256.SaltLen())
	k, err := DeriveKeys("pw", salt, AES256)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("attachment body "), 33)
	buf := append([]byte(nil), plain...)
	require.NoError(t, XORKeyStream(k.Enc, buf))
	assert.NotEqual(t, plain, buf)

	code := AuthCode(k.Auth, buf)
	assert.Len(t, code, AuthCodeLen)
	assert.True(t, Verify(k.Auth, buf, code))

	tampered := append([]byte(nil), buf...)
	tampered[7] ^= 0x01
	assert.False(t, Verify(k.Auth, tampered, code))

	require.NoError(t, XORKeyStream(k.Enc, buf))
	assert.Equal(t, plain, buf)
}

func TestXORKeyStreamBadKey(t *testing.T) {
	assert.Error(t, XORKeyStream([]byte{1, 2, 3}, []byte("x")))
}
