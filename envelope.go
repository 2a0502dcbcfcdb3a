package archivemeta

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope layout: magic || salt || iv || AES-256-CBC(PKCS#7).
const (
	EnvelopeMagic      = "RZAE0001"
	EnvelopeIterations = 100000
	envelopeSaltLen    = 16
	envelopeKeyLen     = 32
	envelopeHeaderLen  = len(EnvelopeMagic) + envelopeSaltLen + aes.BlockSize
)

// Errors returned by the envelope helpers.
var (
	ErrEmptyPassword = errors.New("empty password")
	ErrRNG           = errors.New("cannot generate random salt/iv")
	ErrKDF           = errors.New("key derivation failed")
	ErrCipher        = errors.New("cipher failure")
)

// EnvelopeOption configures EncryptAES256CBC.
type EnvelopeOption func(*envelopeConfig)

type envelopeConfig struct {
	rand       io.Reader
	iterations int
}

// EnvelopeWithRandom sets the source of salt and IV bytes.
func EnvelopeWithRandom(r io.Reader) EnvelopeOption {
	return func(c *envelopeConfig) { c.rand = r }
}

// EncryptAES256CBC wraps data in a password protected envelope. The key is
// derived with PBKDF2-HMAC-SHA256.
func EncryptAES256CBC(data []byte, password string, opts ...EnvelopeOption) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	cfg := envelopeConfig{rand: rand.Reader, iterations: EnvelopeIterations}
	for _, o := range opts {
		o(&cfg)
	}
	hdr := make([]byte, envelopeHeaderLen)
	copy(hdr, EnvelopeMagic)
	saltIV := hdr[len(EnvelopeMagic):]
	if _, err := io.ReadFull(cfg.rand, saltIV); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRNG, err)
	}
	salt, iv := saltIV[:envelopeSaltLen], saltIV[envelopeSaltLen:]

	block, err := envelopeCipher(password, salt, cfg.iterations)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	out := make([]byte, len(hdr)+len(padded))
	copy(out, hdr)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(hdr):], padded)
	clear(padded)
	return out, nil
}

// DecryptAES256CBC opens an envelope produced by EncryptAES256CBC.
func DecryptAES256CBC(env []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(env) < envelopeHeaderLen+aes.BlockSize || !bytes.HasPrefix(env, []byte(EnvelopeMagic)) {
		return nil, fmt.Errorf("%w: not an envelope", ErrCipher)
	}
	ct := env[envelopeHeaderLen:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes", ErrCipher, len(ct))
	}
	salt := env[len(EnvelopeMagic) : len(EnvelopeMagic)+envelopeSaltLen]
	iv := env[len(EnvelopeMagic)+envelopeSaltLen : envelopeHeaderLen]
	block, err := envelopeCipher(password, salt, EnvelopeIterations)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func envelopeCipher(password string, salt []byte, iterations int) (cipher.Block, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("%w: %d iterations", ErrKDF, iterations)
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, envelopeKeyLen, sha256.New)
	defer clear(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipher, err)
	}
	return block, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("%w: bad padded length %d", ErrCipher, len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCipher)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCipher)
		}
	}
	return b[:len(b)-n], nil
}
