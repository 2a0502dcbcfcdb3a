// Package charset sniffs the character set of short byte strings such as
// archive member names and converts them to UTF-8.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// UTF8 is the name reported for input that already is valid UTF-8.
const UTF8 = "UTF-8"

// DefaultMinConfidence is the lowest chardet confidence accepted by Sniffer.
const DefaultMinConfidence = 50

const defaultCacheSize = 64

// ErrUnknownCharset is returned when no decoder exists for a detected name.
var ErrUnknownCharset = errors.New("unknown charset")

// Detector guesses the charset of raw bytes. An empty result means the
// charset could not be determined.
type Detector interface {
	Detect(b []byte) string
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(b []byte) string

// Detect calls f(b).
func (f DetectorFunc) Detect(b []byte) string { return f(b) }

// Sniffer reports UTF-8 for valid UTF-8 input and otherwise asks chardet,
// accepting its best guess only above MinConfidence.
type Sniffer struct {
	MinConfidence int
	text          *chardet.Detector
}

// NewSniffer returns a Sniffer with DefaultMinConfidence.
func NewSniffer() *Sniffer {
	return &Sniffer{MinConfidence: DefaultMinConfidence, text: chardet.NewTextDetector()}
}

// Detect implements Detector.
func (s *Sniffer) Detect(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return UTF8
	}
	res, err := s.text.DetectBest(b)
	if err != nil || res == nil || res.Confidence < s.MinConfidence {
		return ""
	}
	return res.Charset
}

// Converters caches one encoding per charset name. It is safe for
// concurrent use; decoders themselves are created per call.
type Converters struct {
	cache *lru.Cache[string, encoding.Encoding]
}

// NewConverters returns a cache holding up to size encodings.
func NewConverters(size int) *Converters {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, _ := lru.New[string, encoding.Encoding](size)
	return &Converters{cache: c}
}

// Lookup returns the encoding registered for name.
func (c *Converters) Lookup(name string) (encoding.Encoding, error) {
	key := strings.ToLower(name)
	if enc, ok := c.cache.Get(key); ok {
		return enc, nil
	}
	enc, err := resolve(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, enc)
	return enc, nil
}

// Decode converts b from the named charset to UTF-8.
func (c *Converters) Decode(name string, b []byte) (string, error) {
	enc, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(bytes.ToValidUTF8(out, []byte("\uFFFD"))), nil
}

func resolve(name string) (encoding.Encoding, error) {
	switch name {
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "gb-18030":
		name = "gb18030"
	case "iso-8859-8-i":
		name = "iso-8859-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCharset)
	}
	return enc, nil
}
