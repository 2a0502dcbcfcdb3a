package archivemeta

import (
	"log/slog"
	"unicode"

	"github.com/javi11/archivemeta/internal/charset"
)

// Normalizer turns raw member name bytes into UTF-8 and reports names that
// hide characters from a human reader.
type Normalizer struct {
	detector charset.Detector
	conv     *charset.Converters
	logger   *slog.Logger
}

// NewNormalizer builds a Normalizer. A nil detector uses charset.NewSniffer
// and a nil converter cache gets a default sized one.
func NewNormalizer(d charset.Detector, conv *charset.Converters, logger *slog.Logger) *Normalizer {
	if d == nil {
		d = charset.NewSniffer()
	}
	if conv == nil {
		conv = charset.NewConverters(0)
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Normalizer{detector: d, conv: conv, logger: logger}
}

// Normalize decodes raw. ok is false only for empty input; any other input
// yields a name, falling back to the raw bytes when conversion fails.
func (n *Normalizer) Normalize(raw []byte) (name string, obfuscated bool, ok bool) {
	if len(raw) == 0 {
		return "", false, false
	}
	cs := n.detector.Detect(raw)
	if cs == "" {
		name, obfuscated = printableASCII(raw)
		if obfuscated {
			n.logger.Info("obfuscated archive member name", "reason", "unprintable bytes", "name", name)
		}
		return name, obfuscated, true
	}
	decoded, err := n.conv.Decode(cs, raw)
	if err != nil {
		n.logger.Debug("cannot convert member name", "charset", cs, "error", err)
		return string(raw), true, true
	}
	if decoded == "" {
		return string(raw), true, true
	}
	obfuscated = n.scan(decoded)
	if obfuscated {
		n.logger.Info("obfuscated archive member name", "reason", "hidden characters", "charset", cs, "name", decoded)
	}
	return decoded, obfuscated, true
}

// scan reports whether s contains a zero-width or control character. It
// stops at the first hit.
func (n *Normalizer) scan(s string) bool {
	for _, r := range s {
		if isHiddenRune(r) {
			return true
		}
	}
	return false
}

func isHiddenRune(r rune) bool {
	switch r {
	case 0x200B, 0x200C, 0x200D, 0x2060, 0xFEFF:
		return true
	}
	return unicode.IsControl(r)
}

func printableASCII(raw []byte) (string, bool) {
	out := make([]byte, len(raw))
	replaced := false
	for i, c := range raw {
		if c < 0x20 || c > 0x7E {
			out[i] = '?'
			replaced = true
			continue
		}
		out[i] = c
	}
	return string(out), replaced
}
