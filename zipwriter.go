package archivemeta

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/javi11/archivemeta/internal/aescrypt"
)

// Errors returned by WriteZip.
var (
	ErrNoEntries         = errors.New("no files to archive")
	ErrInvalidName       = errors.New("invalid zip entry name")
	ErrEntryTooLarge     = errors.New("zip entry too large")
	ErrIO                = errors.New("zip i/o failure")
	ErrCryptoUnavailable = errors.New("requested encryption is unavailable")
	ErrCryptoFailure     = errors.New("zip encryption failed")
)

// AESStrength selects the WinZip AES key size.
type AESStrength = aescrypt.Strength

const (
	AES128 = aescrypt.AES128
	AES192 = aescrypt.AES192
	AES256 = aescrypt.AES256
)

// ZipFileSpec is one entry to be written. A zero ModTime means now and a
// zero Mode means 0644.
type ZipFileSpec struct {
	Name    string
	Data    []byte
	ModTime time.Time
	Mode    uint32
}

const (
	zipMethodStore   = 0
	zipMethodDeflate = 8
	zipMethodAES     = 99

	zipVersionDefault = 20
	zipVersionAES     = 51
	zipVersionMadeBy  = 3<<8 | 20 // UNIX, 2.0

	zipFlagEncrypted = 1 << 0
	zipFlagUTF8      = 1 << 11

	zipLocalSignature = 0x04034b50
	zipEOCDSignature  = 0x06054b50

	zipAESExtraLen    = 11 // id, size and a 7 byte body
	zipAESVendorAE2   = 2
	zipDefaultMode    = 0o644
	zipMaxEntries     = math.MaxUint16
	zipMaxEntrySize   = math.MaxUint32
	zipMaxNameLen     = math.MaxUint16
	lfhMethodOffset   = 8
	lfhCRCOffset      = 14
	lfhCompSizeOffset = 18
	lfhFixedLen       = 30
	aesExtraMethodOff = 9 // offset of the actual method inside the 0x9901 record
)

// WriterOption configures WriteZip.
type WriterOption func(*zipWriter)

// WithRandom sets the source of salts. It defaults to crypto/rand.
func WithRandom(r io.Reader) WriterOption {
	return func(w *zipWriter) { w.rand = r }
}

// WithAESStrength sets the AES key size used when a password is given.
func WithAESStrength(s AESStrength) WriterOption {
	return func(w *zipWriter) { w.strength = s }
}

// WithCompressionLevel sets the DEFLATE level (flate.NoCompression to
// flate.BestCompression, or flate.DefaultCompression).
func WithCompressionLevel(level int) WriterOption {
	return func(w *zipWriter) { w.level = level }
}

// WithWriterLogger sets the logger for per-entry debug output.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *zipWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

type zipWriter struct {
	rand     io.Reader
	strength AESStrength
	level    int
	logger   *slog.Logger
	now      func() time.Time

	buf []byte
	cd  []byte
}

// localHeader addresses the placeholder fields of an emitted local file
// header.
type localHeader struct {
	w       *zipWriter
	off     int
	nameLen int
}

func (h localHeader) putUint16(rel int, v uint16) {
	binary.LittleEndian.PutUint16(h.w.buf[h.off+rel:], v)
}

func (h localHeader) putUint32(rel int, v uint32) {
	binary.LittleEndian.PutUint32(h.w.buf[h.off+rel:], v)
}

func (h localHeader) setMethod(m uint16)         { h.putUint16(lfhMethodOffset, m) }
func (h localHeader) setCRC(crc uint32)          { h.putUint32(lfhCRCOffset, crc) }
func (h localHeader) setCompressedSize(n uint32) { h.putUint32(lfhCompSizeOffset, n) }

// setAESMethod patches the actual compression method in the AES extra
// record that follows the name.
func (h localHeader) setAESMethod(m uint16) {
	h.putUint16(lfhFixedLen+h.nameLen+aesExtraMethodOff, m)
}

type entryHeader struct {
	name       string
	version    uint16
	flags      uint16
	method     uint16
	modTime    time.Time
	crc        uint32
	compSize   uint32
	uncompSize uint32
	extraLen   uint16
}

// WriteZip builds a complete ZIP archive in memory. With a non-empty
// password every entry is encrypted with WinZip AE-2. On error no output is
// returned.
func WriteZip(files []ZipFileSpec, password string, opts ...WriterOption) ([]byte, error) {
	if len(files) == 0 {
		return nil, ErrNoEntries
	}
	if len(files) > zipMaxEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrEntryTooLarge, len(files))
	}
	w := &zipWriter{
		rand:     rand.Reader,
		strength: AES256,
		level:    flate.DefaultCompression,
		logger:   discardLogger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if password != "" && !w.strength.Valid() {
		return nil, fmt.Errorf("%w: aes strength %d", ErrCryptoUnavailable, w.strength)
	}
	for i := range files {
		if err := validateEntryName(files[i].Name); err != nil {
			return nil, err
		}
		if uint64(len(files[i].Data)) > zipMaxEntrySize {
			return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, files[i].Name)
		}
	}
	for i := range files {
		if err := w.addEntry(&files[i], password); err != nil {
			return nil, err
		}
	}
	if err := w.finish(len(files)); err != nil {
		return nil, err
	}
	w.logger.Debug("zip archive created", "entries", len(files), "size", len(w.buf))
	return w.buf, nil
}

func validateEntryName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name[0] == '/' || name[0] == '\\':
		return fmt.Errorf("%w: %s: absolute path", ErrInvalidName, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %s: parent reference", ErrInvalidName, name)
	case strings.ContainsRune(name, ':'):
		return fmt.Errorf("%w: %s: drive or stream separator", ErrInvalidName, name)
	case len(name) > zipMaxNameLen:
		return fmt.Errorf("%w: name of %d bytes", ErrInvalidName, len(name))
	}
	return nil
}

func (w *zipWriter) addEntry(f *ZipFileSpec, password string) error {
	mtime := f.ModTime
	if mtime.IsZero() {
		mtime = w.now()
	}
	hdr := entryHeader{
		name:       f.Name,
		version:    zipVersionDefault,
		flags:      zipFlagUTF8,
		method:     zipMethodDeflate,
		modTime:    mtime,
		crc:        crc32.ChecksumIEEE(f.Data),
		uncompSize: uint32(len(f.Data)),
	}
	useAES := password != ""
	if useAES {
		hdr.version = zipVersionAES
		hdr.flags |= zipFlagEncrypted
		hdr.method = zipMethodAES
		hdr.extraLen = zipAESExtraLen
		hdr.crc = 0
	}

	lh := w.writeLocalHeader(&hdr)
	actual := uint16(zipMethodDeflate)
	if useAES {
		w.buf = appendAESExtra(w.buf, w.strength, actual)
	}

	payload, stored, err := w.deflate(f.Data)
	if err != nil {
		return err
	}
	if stored {
		actual = zipMethodStore
	}

	var compSize uint64
	if useAES {
		n, err := w.writeEncrypted(payload, password)
		if err != nil {
			return err
		}
		compSize = n
		lh.setAESMethod(actual)
	} else {
		w.buf = append(w.buf, payload...)
		compSize = uint64(len(payload))
		hdr.method = actual
		lh.setMethod(actual)
		lh.setCRC(hdr.crc)
	}
	if compSize > zipMaxEntrySize {
		return fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}
	hdr.compSize = uint32(compSize)
	lh.setCompressedSize(hdr.compSize)

	mode := f.Mode
	if mode == 0 {
		mode = zipDefaultMode
	}
	w.writeCentralHeader(&hdr, uint32(lh.off), mode)
	if useAES {
		w.cd = appendAESExtra(w.cd, w.strength, actual)
	}
	w.logger.Debug("zip entry added", "name", f.Name, "usize", len(f.Data), "csize", compSize, "stored", stored, "encrypted", useAES)
	return nil
}

// deflate compresses data as raw DEFLATE and falls back to storing when
// that does not make it smaller.
func (w *zipWriter) deflate(data []byte) ([]byte, bool, error) {
	var out bytes.Buffer
	out.Grow(deflateBound(len(data)))
	fw, err := flate.NewWriter(&out, w.level)
	if err != nil {
		return nil, false, fmt.Errorf("%w: deflate init: %w", ErrIO, err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, false, fmt.Errorf("%w: deflate: %w", ErrIO, err)
	}
	if err := fw.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: deflate: %w", ErrIO, err)
	}
	if out.Len() >= len(data) {
		return data, true, nil
	}
	return out.Bytes(), false, nil
}

// deflateBound mirrors zlib's deflateBound for a raw stream.
func deflateBound(n int) int {
	return n + n>>12 + n>>14 + n>>25 + 13
}

// writeEncrypted appends salt, password verifier, ciphertext and
// authentication code, returning their total length.
func (w *zipWriter) writeEncrypted(payload []byte, password string) (uint64, error) {
	salt := make([]byte, w.strength.SaltLen())
	if _, err := io.ReadFull(w.rand, salt); err != nil {
		return 0, fmt.Errorf("%w: cannot generate aes salt: %w", ErrIO, err)
	}
	keys, err := aescrypt.DeriveKeys(password, salt, w.strength)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCryptoFailure, err)
	}
	start := len(w.buf)
	w.buf = append(w.buf, salt...)
	w.buf = append(w.buf, keys.Verifier...)
	ctStart := len(w.buf)
	w.buf = append(w.buf, payload...)
	ct := w.buf[ctStart:]
	if err := aescrypt.XORKeyStream(keys.Enc, ct); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCryptoFailure, err)
	}
	w.buf = append(w.buf, aescrypt.AuthCode(keys.Auth, ct)...)
	clear(keys.Enc)
	clear(keys.Auth)
	return uint64(len(w.buf) - start), nil
}

func (w *zipWriter) writeLocalHeader(h *entryHeader) localHeader {
	off := len(w.buf)
	dosTime, dosDate := dosDateTime(h.modTime)
	b := w.buf
	b = binary.LittleEndian.AppendUint32(b, zipLocalSignature)
	b = binary.LittleEndian.AppendUint16(b, h.version)
	b = binary.LittleEndian.AppendUint16(b, h.flags)
	b = binary.LittleEndian.AppendUint16(b, h.method)
	b = binary.LittleEndian.AppendUint16(b, dosTime)
	b = binary.LittleEndian.AppendUint16(b, dosDate)
	b = binary.LittleEndian.AppendUint32(b, h.crc)
	b = binary.LittleEndian.AppendUint32(b, 0) // compressed size, patched
	b = binary.LittleEndian.AppendUint32(b, h.uncompSize)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(h.name)))
	b = binary.LittleEndian.AppendUint16(b, h.extraLen)
	b = append(b, h.name...)
	w.buf = b
	return localHeader{w: w, off: off, nameLen: len(h.name)}
}

func (w *zipWriter) writeCentralHeader(h *entryHeader, lfhOffset, mode uint32) {
	dosTime, dosDate := dosDateTime(h.modTime)
	b := w.cd
	b = binary.LittleEndian.AppendUint32(b, zipCDSignature)
	b = binary.LittleEndian.AppendUint16(b, zipVersionMadeBy)
	b = binary.LittleEndian.AppendUint16(b, h.version)
	b = binary.LittleEndian.AppendUint16(b, h.flags)
	b = binary.LittleEndian.AppendUint16(b, h.method)
	b = binary.LittleEndian.AppendUint16(b, dosTime)
	b = binary.LittleEndian.AppendUint16(b, dosDate)
	b = binary.LittleEndian.AppendUint32(b, h.crc)
	b = binary.LittleEndian.AppendUint32(b, h.compSize)
	b = binary.LittleEndian.AppendUint32(b, h.uncompSize)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(h.name)))
	b = binary.LittleEndian.AppendUint16(b, h.extraLen)
	b = binary.LittleEndian.AppendUint16(b, 0) // comment
	b = binary.LittleEndian.AppendUint16(b, 0) // disk number start
	b = binary.LittleEndian.AppendUint16(b, 0) // internal attributes
	b = binary.LittleEndian.AppendUint32(b, (mode&0xFFFF)<<16)
	b = binary.LittleEndian.AppendUint32(b, lfhOffset)
	b = append(b, h.name...)
	w.cd = b
}

func appendAESExtra(b []byte, strength AESStrength, method uint16) []byte {
	b = binary.LittleEndian.AppendUint16(b, zipExtraWinZipAE)
	b = binary.LittleEndian.AppendUint16(b, zipAESExtraLen-4)
	b = binary.LittleEndian.AppendUint16(b, zipAESVendorAE2)
	b = append(b, 'A', 'E', byte(strength))
	return binary.LittleEndian.AppendUint16(b, method)
}

func (w *zipWriter) finish(entries int) error {
	if uint64(len(w.buf)) > zipMaxEntrySize || uint64(len(w.cd)) > zipMaxEntrySize {
		return fmt.Errorf("%w: archive exceeds 4 GiB", ErrEntryTooLarge)
	}
	cdStart := uint32(len(w.buf))
	w.buf = append(w.buf, w.cd...)
	b := w.buf
	b = binary.LittleEndian.AppendUint32(b, zipEOCDSignature)
	b = binary.LittleEndian.AppendUint16(b, 0) // this disk
	b = binary.LittleEndian.AppendUint16(b, 0) // disk with central directory
	b = binary.LittleEndian.AppendUint16(b, uint16(entries))
	b = binary.LittleEndian.AppendUint16(b, uint16(entries))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(w.cd)))
	b = binary.LittleEndian.AppendUint32(b, cdStart)
	b = binary.LittleEndian.AppendUint16(b, 0) // comment length
	w.buf = b
	w.cd = nil
	return nil
}

// dosDateTime converts t to MS-DOS time and date words in t's location.
// Times before 1980 are clamped to the DOS epoch.
func dosDateTime(t time.Time) (uint16, uint16) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, t.Location())
	}
	dosTime := uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()>>1)
	dosDate := uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return dosTime, dosDate
}
