package archivemeta

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta/internal/parse"
)

// rar4Block builds a 1.5-4.x block. When addSize is set the long block flag
// is raised and the value is written after the fixed header.
func rar4Block(typ byte, flags uint16, body []byte, addSize *uint32) []byte {
	size := 7 + len(body)
	if addSize != nil {
		flags |= rar4FlagLongBlock
		size += 4
	}
	b := []byte{0x00, 0x00, typ}
	b = binary.LittleEndian.AppendUint16(b, flags)
	b = binary.LittleEndian.AppendUint16(b, uint16(size))
	if addSize != nil {
		b = binary.LittleEndian.AppendUint32(b, *addSize)
	}
	return append(b, body...)
}

// rar4File builds a file block followed by pack bytes of data. High size
// halves are written when flags carries rar4FileLarge.
func rar4File(name []byte, flags uint16, pack, unp uint64) []byte {
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, uint32(unp))
	body = append(body, make([]byte, 11)...) // host, crc, mtime, version, method
	body = binary.LittleEndian.AppendUint16(body, uint16(len(name)))
	body = append(body, 0x20, 0, 0, 0) // attributes
	if flags&rar4FileLarge != 0 {
		body = binary.LittleEndian.AppendUint32(body, uint32(pack>>32))
		body = binary.LittleEndian.AppendUint32(body, uint32(unp>>32))
	}
	body = append(body, name...)
	low := uint32(pack)
	blk := rar4Block(rar4BlockFile, flags, body, &low)
	if pack < 1<<16 {
		blk = append(blk, bytes.Repeat([]byte{0x5A}, int(pack))...)
	}
	return blk
}

func rar4Archive(blocks ...[]byte) []byte {
	out := append([]byte(nil), sigRar4...)
	out = append(out, rar4Block(rar4BlockMain, 0, make([]byte, 6), nil)...)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func rar5Block(typ, flags uint64, body, extra, data []byte) []byte {
	if extra != nil {
		flags |= rar5HasExtra
	}
	if data != nil {
		flags |= rar5HasData
	}
	head := parse.AppendVarint(nil, typ)
	head = parse.AppendVarint(head, flags)
	if extra != nil {
		head = parse.AppendVarint(head, uint64(len(extra)))
	}
	if data != nil {
		head = parse.AppendVarint(head, uint64(len(data)))
	}
	head = append(head, body...)
	head = append(head, extra...)
	out := []byte{0, 0, 0, 0} // CRC32
	out = parse.AppendVarint(out, uint64(len(head)))
	out = append(out, head...)
	return append(out, data...)
}

func rar5FileBody(name string, fileFlags, unp uint64) []byte {
	b := parse.AppendVarint(nil, fileFlags)
	b = parse.AppendVarint(b, unp)
	b = parse.AppendVarint(b, 0x20) // attributes
	if fileFlags&rar5FileMtime != 0 {
		b = append(b, 1, 2, 3, 4)
	}
	if fileFlags&rar5FileCRC != 0 {
		b = append(b, 5, 6, 7, 8)
	}
	b = parse.AppendVarint(b, 0) // compression
	b = parse.AppendVarint(b, 1) // host OS
	b = parse.AppendVarint(b, uint64(len(name)))
	return append(b, name...)
}

func rar5Archive(blocks ...[]byte) []byte {
	out := append([]byte(nil), sigRar5...)
	out = append(out, rar5Block(rar5BlockMain, 0, parse.AppendVarint(nil, 0), nil, nil)...)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return append(out, rar5Block(rar5BlockEnd, 0, parse.AppendVarint(nil, 0), nil, nil)...)
}

func TestParseRar4StoredFile(t *testing.T) {
	data := rar4Archive(rar4File([]byte("file3.txt"), 0, 5, 5))
	arc, err := New().ParseRar(data, "a.rar")
	require.NoError(t, err)
	assert.Equal(t, TypeRar, arc.Type)
	assert.Equal(t, int64(len(data)), arc.Size)
	assert.Equal(t, "a.rar", arc.Name)
	require.Len(t, arc.Files, 1)
	assert.Equal(t, File{Name: "file3.txt", CompressedSize: 5, UncompressedSize: 5}, arc.Files[0])
	assert.False(t, arc.Encrypted())
}

func TestParseRar4MultipleFilesSkipData(t *testing.T) {
	data := rar4Archive(
		rar4File([]byte("one.bin"), 0, 300, 1000),
		rar4File([]byte("two.bin"), 0, 17, 17),
		rar4Block(rar4BlockEnd, 0, nil, nil),
	)
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 2)
	assert.Equal(t, "one.bin", arc.Files[0].Name)
	assert.Equal(t, uint64(300), arc.Files[0].CompressedSize)
	assert.Equal(t, uint64(1000), arc.Files[0].UncompressedSize)
	assert.Equal(t, "two.bin", arc.Files[1].Name)
}

func TestParseRar4EncryptedMainHeaderStops(t *testing.T) {
	data := append([]byte(nil), sigRar4...)
	data = append(data, rar4Block(rar4BlockMain, rar4MainPassword, make([]byte, 6), nil)...)
	data = append(data, rar4File([]byte("hidden.txt"), 0, 1, 1)...)
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	assert.True(t, arc.Encrypted())
	assert.Empty(t, arc.Files)
}

func TestParseRar4EncryptedFile(t *testing.T) {
	data := rar4Archive(rar4File([]byte("secret.doc"), rar4FileEncrypted, 8, 8))
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 1)
	assert.True(t, arc.Files[0].Encrypted())
	assert.True(t, arc.Encrypted())
}

func TestParseRar4HighSizes(t *testing.T) {
	pack := uint64(0x1_FFFF_FFFF)
	unp := uint64(0x2_FFFF_FFFF)
	blk := rar4File([]byte("big.bin"), rar4FileLarge, pack, unp)

	in := New()
	c := parse.NewCursor(blk)
	h, err := readRar4BlockHeader(c)
	require.NoError(t, err)
	b := in.newBuilder(TypeRar, "")
	require.NoError(t, in.parseRar4FileHeader(c, b, h))
	require.Len(t, b.arc.Files, 1)
	assert.Equal(t, pack, b.arc.Files[0].CompressedSize)
	assert.Equal(t, unp, b.arc.Files[0].UncompressedSize)

	// the packed data is not there
	_, err = in.ParseRar(rar4Archive(blk), "")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar4UnicodeName(t *testing.T) {
	withNUL := append([]byte("ascii.txt\x00"), 0x01, 0x02, 0x03)
	data := rar4Archive(
		rar4File(withNUL, rar4FileUnicode, 0, 0),
		rar4File([]byte("отчёт.txt"), rar4FileUnicode, 0, 0),
	)
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 2)
	assert.Equal(t, "ascii.txt", arc.Files[0].Name)
	assert.Equal(t, "отчёт.txt", arc.Files[1].Name)
}

func TestParseRar4NonFileAddSizeBlock(t *testing.T) {
	add := uint32(4)
	comment := append(rar4Block(0x75, 0, nil, &add), 0xDE, 0xAD, 0xBE, 0xEF)
	data := rar4Archive(comment, rar4File([]byte("nf.bin"), 0, 2, 2))
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 1)
	assert.Equal(t, "nf.bin", arc.Files[0].Name)
}

func TestParseRar4Malformed(t *testing.T) {
	zero := []byte{0x00, 0x00, 0x7A, 0x00, 0x00, 0x00, 0x00}
	_, err := New().ParseRar(rar4Archive(zero), "")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = New().ParseRar(rar4Archive(rar4File(nil, 0, 0, 0)), "")
	assert.ErrorIs(t, err, ErrMalformed)

	truncated := rar4File([]byte("cut.txt"), 0, 0, 0)
	_, err = New().ParseRar(rar4Archive(truncated[:14]), "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRarNoSignature(t *testing.T) {
	_, err := New().ParseRar([]byte("not a rar archive"), "")
	assert.ErrorIs(t, err, ErrNotArchive)
}

func TestParseRar5File(t *testing.T) {
	data := rar5Archive(rar5Block(rar5BlockFile, 0, rar5FileBody("file5.data", 0, 5), nil, []byte{1, 2, 3}))
	arc, err := New().ParseRar(data, "b.rar")
	require.NoError(t, err)
	require.Len(t, arc.Files, 1)
	assert.Equal(t, File{Name: "file5.data", CompressedSize: 3, UncompressedSize: 5}, arc.Files[0])
	assert.Equal(t, int64(len(data)), arc.Size)
}

func TestParseRar5MultipleFilesAndFlags(t *testing.T) {
	data := rar5Archive(
		rar5Block(rar5BlockFile, 0, rar5FileBody("a.txt", rar5FileMtime|rar5FileCRC, 10), nil, bytes.Repeat([]byte{7}, 200)),
		rar5Block(rar5BlockFile, 0, rar5FileBody("dir", rar5FileDirectory, 0), nil, nil),
		rar5Block(3, 0, []byte{0}, nil, nil), // service header
		rar5Block(rar5BlockFile, 0, rar5FileBody("b.txt", 0, 1), nil, []byte{9}),
	)
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 2)
	assert.Equal(t, "a.txt", arc.Files[0].Name)
	assert.Equal(t, uint64(200), arc.Files[0].CompressedSize)
	assert.Equal(t, "b.txt", arc.Files[1].Name)
}

func TestParseRar5EncryptedExtraRecord(t *testing.T) {
	crypt := parse.AppendVarint(nil, rar5ExtraCrypt)
	crypt = append(crypt, 0, 0, 0, 0) // version, flags, ...
	extra := append(parse.AppendVarint(nil, uint64(len(crypt))), crypt...)
	data := rar5Archive(rar5Block(rar5BlockFile, 0, rar5FileBody("locked.pdf", 0, 4), extra, []byte{1, 2, 3, 4}))
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 1)
	assert.True(t, arc.Files[0].Encrypted())
	assert.True(t, arc.Encrypted())
}

func TestParseRar5OtherExtraRecord(t *testing.T) {
	htime := append(parse.AppendVarint(nil, 3), 0)
	extra := append(parse.AppendVarint(nil, uint64(len(htime))), htime...)
	data := rar5Archive(rar5Block(rar5BlockFile, 0, rar5FileBody("plain.txt", 0, 4), extra, nil))
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	require.Len(t, arc.Files, 1)
	assert.False(t, arc.Files[0].Encrypted())
	assert.False(t, arc.Encrypted())
}

func TestParseRar5EncryptedHeader(t *testing.T) {
	data := append([]byte(nil), sigRar5...)
	data = append(data, rar5Block(rar5BlockEncrypted, 0, []byte{0, 0}, nil, nil)...)
	data = append(data, bytes.Repeat([]byte{0xEE}, 64)...)
	arc, err := New().ParseRar(data, "")
	require.NoError(t, err)
	assert.True(t, arc.Encrypted())
	assert.Empty(t, arc.Files)
}

func TestParseRar5FirstBlockMustBeMain(t *testing.T) {
	data := append([]byte(nil), sigRar5...)
	data = append(data, rar5Block(rar5BlockFile, 0, rar5FileBody("x", 0, 1), nil, nil)...)
	_, err := New().ParseRar(data, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRar5ZeroHeadSize(t *testing.T) {
	data := append([]byte(nil), sigRar5...)
	data = append(data, 0, 0, 0, 0, 0x00)
	_, err := New().ParseRar(data, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRar5OverlongVarint(t *testing.T) {
	data := append([]byte(nil), sigRar5...)
	data = append(data, 0, 0, 0, 0)
	data = append(data, bytes.Repeat([]byte{0xFF}, 9)...)
	data = append(data, 0x01)
	_, err := New().ParseRar(data, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRar5TruncatedHead(t *testing.T) {
	full := rar5Archive(
		rar5Block(rar5BlockFile, 0, rar5FileBody("first.txt", 0, 1), nil, []byte{1}),
		rar5Block(rar5BlockFile, 0, rar5FileBody("second.txt", 0, 1), nil, []byte{1}),
	)
	cut := full[:bytes.Index(full, []byte("second.txt"))-3]
	arc, err := New().ParseRar(cut, "")
	assert.Nil(t, arc)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar5TruncatedDataArea(t *testing.T) {
	full := rar5Archive(rar5Block(rar5BlockFile, 0, rar5FileBody("a.txt", 0, 100), nil, bytes.Repeat([]byte{7}, 100)))
	arc, err := New().ParseRar(full[:len(full)-60], "")
	assert.Nil(t, arc)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar5ShortTrailingBytes(t *testing.T) {
	data := append(append([]byte(nil), sigRar5...), rar5Block(rar5BlockMain, 0, parse.AppendVarint(nil, 0), nil, nil)...)
	data = append(data, 0x01, 0x02)
	_, err := New().ParseRar(data, "")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar4TruncatedDataArea(t *testing.T) {
	full := rar4Archive(rar4File([]byte("b.txt"), 0, 100, 100))
	arc, err := New().ParseRar(full[:len(full)-50], "")
	assert.Nil(t, arc)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar4ShortTrailingBytes(t *testing.T) {
	data := append(rar4Archive(rar4File([]byte("b.txt"), 0, 1, 1)), 0x00, 0x00, 0x74)
	arc, err := New().ParseRar(data, "")
	assert.Nil(t, arc)
	assert.ErrorIs(t, err, parse.ErrTruncated)
}

func TestParseRar5BadNameLen(t *testing.T) {
	body := parse.AppendVarint(nil, 0)
	body = parse.AppendVarint(body, 1)
	body = parse.AppendVarint(body, 0)
	body = parse.AppendVarint(body, 0)
	body = parse.AppendVarint(body, 0)
	body = parse.AppendVarint(body, 40) // longer than the header
	body = append(body, "short"...)
	data := rar5Archive(rar5Block(rar5BlockFile, 0, body, nil, nil))
	_, err := New().ParseRar(data, "")
	assert.ErrorIs(t, err, ErrMalformed)
}
