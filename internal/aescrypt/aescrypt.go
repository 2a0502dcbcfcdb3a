// Package aescrypt implements the primitives of the WinZip AE-2 entry
// encryption used by the ZIP writer: PBKDF2-HMAC-SHA1 key material split
// into cipher key, MAC key and password verifier, AES in counter mode and a
// truncated HMAC-SHA1 authentication code.
package aescrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 round count fixed by AE-1/AE-2.
	Iterations = 1000
	// VerifierLen is the size of the password verification value.
	VerifierLen = 2
	// AuthCodeLen is the size of the stored HMAC-SHA1 prefix.
	AuthCodeLen = 10
)

// Strength is the AES strength byte of the 0x9901 extra field.
type Strength byte

const (
	AES128 Strength = 1
	AES192 Strength = 2
	AES256 Strength = 3
)

// ErrStrength is returned for strength values outside 1..3.
var ErrStrength = errors.New("unsupported aes strength")

// Valid reports whether s is one of the defined strengths.
func (s Strength) Valid() bool { return s >= AES128 && s <= AES256 }

// KeyLen returns the AES key size in bytes.
func (s Strength) KeyLen() int { return 8 + 8*int(s) }

// SaltLen returns the salt size in bytes.
func (s Strength) SaltLen() int { return 4 + 4*int(s) }

// Keys is the derived key material of one entry.
type Keys struct {
	Enc      []byte
	Auth     []byte
	Verifier []byte
}

// DeriveKeys expands password and salt into 2*KeyLen+2 bytes and splits them.
func DeriveKeys(password string, salt []byte, s Strength) (Keys, error) {
	if !s.Valid() {
		return Keys{}, fmt.Errorf("%w: %d", ErrStrength, s)
	}
	if len(salt) != s.SaltLen() {
		return Keys{}, fmt.Errorf("salt length %d, want %d", len(salt), s.SaltLen())
	}
	klen := s.KeyLen()
	dk := pbkdf2.Key([]byte(password), salt, Iterations, 2*klen+VerifierLen, sha1.New)
	return Keys{
		Enc:      dk[:klen],
		Auth:     dk[klen : 2*klen],
		Verifier: dk[2*klen:],
	}, nil
}

// XORKeyStream encrypts or decrypts buf in place with AES-CTR. The counter
// block starts at all zeroes.
func XORKeyStream(key, buf []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aes cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	cipher.NewCTR(block, iv).XORKeyStream(buf, buf)
	return nil
}

// AuthCode returns the first AuthCodeLen bytes of HMAC-SHA1(key, ciphertext).
func AuthCode(key, ciphertext []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:AuthCodeLen]
}

// Verify checks a stored authentication code in constant time.
func Verify(key, ciphertext, code []byte) bool {
	return hmac.Equal(AuthCode(key, ciphertext), code)
}
