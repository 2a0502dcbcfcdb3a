package archivemeta

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/javi11/archivemeta/internal/parse"
)

const (
	zipEOCDLen       = 22
	zipCDHeaderLen   = 46
	zipCDSignature   = 0x02014b50
	zipEncryptMask   = 0x41 // traditional (bit0) or strong (bit6) encryption
	zipExtraZip64    = 0x0001
	zipExtraStrong   = 0x0017
	zipExtraWinZipAE = 0x9901
)

// ParseZip reads the central directory of a ZIP archive.
func (in *Inspector) ParseZip(data []byte, declaredName string) (*Archive, error) {
	eocd, err := findEOCD(data, in.maxEOCDProbes)
	if err != nil {
		return nil, err
	}
	tr := parse.NewCursor(data[eocd:])
	_ = tr.Skip(12) // signature, disk numbers, entry counts
	cdSize, _ := tr.Uint32()
	cdOffset, _ := tr.Uint32()
	if uint64(cdOffset)+uint64(cdSize) > uint64(eocd) {
		return nil, fmt.Errorf("%w: central directory %d+%d past trailer at %d", ErrMalformed, cdOffset, cdSize, eocd)
	}
	c := parse.NewCursor(data[:eocd])
	if err := c.Seek(int(cdOffset)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	b := in.newBuilder(TypeZip, declaredName)
	cdEnd := int(cdOffset) + int(cdSize)
	for c.Pos()+zipCDHeaderLen <= cdEnd {
		if err := in.readZipRecord(c, b); err != nil {
			return nil, err
		}
	}
	return b.finish(len(data)), nil
}

// findEOCD scans backwards from the last possible trailer offset.
func findEOCD(data []byte, maxProbes int) (int, error) {
	if len(data) < zipEOCDLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrNotArchive, len(data))
	}
	p := len(data) - zipEOCDLen
	for probes := 0; probes < maxProbes && p >= 0; probes++ {
		if bytes.Equal(data[p:p+4], sigZipEmpty) {
			return p, nil
		}
		p--
	}
	return 0, fmt.Errorf("%w: no end of central directory", ErrNotArchive)
}

func (in *Inspector) readZipRecord(c *parse.Cursor, b *builder) error {
	hdr, err := c.Bytes(zipCDHeaderLen)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if sig := binary.LittleEndian.Uint32(hdr[0:4]); sig != zipCDSignature {
		return fmt.Errorf("%w: bad central directory signature %08x at %d", ErrMalformed, sig, c.Pos()-zipCDHeaderLen)
	}
	gpFlags := binary.LittleEndian.Uint16(hdr[8:10])
	compressed := uint64(binary.LittleEndian.Uint32(hdr[20:24]))
	uncompressed := uint64(binary.LittleEndian.Uint32(hdr[24:28]))
	nameLen := uint64(binary.LittleEndian.Uint16(hdr[28:30]))
	extraLen := uint64(binary.LittleEndian.Uint16(hdr[30:32]))
	commentLen := uint64(binary.LittleEndian.Uint16(hdr[32:34]))

	if nameLen+extraLen+commentLen > uint64(c.Remaining()) {
		return fmt.Errorf("%w: record at %d overruns trailer", ErrMalformed, c.Pos()-zipCDHeaderLen)
	}
	name, _ := c.Bytes(nameLen)
	extra, _ := c.Bytes(extraLen)
	_ = c.Skip(commentLen)

	var flags FileFlags
	if gpFlags&zipEncryptMask != 0 {
		flags |= FileEncrypted
	}
	ex := scanZipExtra(extra, compressed == 0xFFFFFFFF, uncompressed == 0xFFFFFFFF)
	if ex.encrypted {
		flags |= FileEncrypted
	}
	if ex.compressed != nil {
		compressed = *ex.compressed
	}
	if ex.uncompressed != nil {
		uncompressed = *ex.uncompressed
	}
	if !b.addName(name, compressed, uncompressed, flags) {
		in.logger.Debug("skip zip member without name", "format", "zip", "filename", b.arc.Name)
	}
	return nil
}

type zipExtraInfo struct {
	encrypted    bool
	compressed   *uint64
	uncompressed *uint64
}

// scanZipExtra walks the (id, size) records of an extra field. Truncated
// records end the scan.
func scanZipExtra(extra []byte, wantComp, wantUncomp bool) zipExtraInfo {
	var info zipExtraInfo
	c := parse.NewCursor(extra)
	for c.Remaining() >= 4 {
		id, _ := c.Uint16()
		size, _ := c.Uint16()
		body, err := c.Sub(uint64(size))
		if err != nil {
			break
		}
		switch id {
		case zipExtraStrong, zipExtraWinZipAE:
			info.encrypted = true
		case zipExtraZip64:
			if wantUncomp {
				if v, err := body.Uint64(); err == nil {
					info.uncompressed = &v
				}
			}
			if wantComp {
				if v, err := body.Uint64(); err == nil {
					info.compressed = &v
				}
			}
		}
	}
	return info
}
