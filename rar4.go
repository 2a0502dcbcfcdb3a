package archivemeta

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/javi11/archivemeta/internal/parse"
)

const (
	rar4BlockMain = 0x73
	rar4BlockFile = 0x74
	rar4BlockEnd  = 0x7B

	rar4FlagLongBlock = 0x8000
	rar4MainPassword  = 0x0080
	rar4FileEncrypted = 0x0004
	rar4FileLarge     = 0x0100
	rar4FileUnicode   = 0x0200

	rar4BlockHeaderLen = 7
)

type rar4BlockHeader struct {
	CRC     uint16
	Type    byte
	Flags   uint16
	Size    uint16
	AddSize uint32 // only if flags & 0x8000
}

func (h *rar4BlockHeader) total() uint64 {
	return uint64(h.Size) + uint64(h.AddSize)
}

func readRar4BlockHeader(c *parse.Cursor) (*rar4BlockHeader, error) {
	raw, err := c.Bytes(rar4BlockHeaderLen)
	if err != nil {
		return nil, err
	}
	h := &rar4BlockHeader{
		CRC:   uint16(raw[0]) | uint16(raw[1])<<8,
		Type:  raw[2],
		Flags: uint16(raw[3]) | uint16(raw[4])<<8,
		Size:  uint16(raw[5]) | uint16(raw[6])<<8,
	}
	if h.Flags&rar4FlagLongBlock != 0 {
		if h.AddSize, err = c.Uint32(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (in *Inspector) parseRar4(c *parse.Cursor, b *builder) error {
	for c.Remaining() >= rar4BlockHeaderLen {
		hdrStart := c.Pos()
		h, err := readRar4BlockHeader(c)
		if err != nil {
			return fmt.Errorf("block header at %d: %w", hdrStart, err)
		}
		total := h.total()
		if total == 0 {
			return fmt.Errorf("zero sized block at %d", hdrStart)
		}
		switch h.Type {
		case rar4BlockMain:
			if h.Flags&rar4MainPassword != 0 {
				b.setEncrypted()
				return nil
			}
		case rar4BlockFile:
			if err := in.parseRar4FileHeader(c, b, h); err != nil {
				return fmt.Errorf("file header at %d: %w", hdrStart, err)
			}
		case rar4BlockEnd:
			return nil
		}
		if err := nextSection(c, uint64(hdrStart)+total); err != nil {
			return fmt.Errorf("block at %d: %w", hdrStart, err)
		}
	}
	if c.Remaining() > 0 {
		return fmt.Errorf("%d trailing bytes at %d: %w", c.Remaining(), c.Pos(), parse.ErrTruncated)
	}
	return nil
}

// parseRar4FileHeader reads the fields after the block header. AddSize of a
// file block is its packed size.
func (in *Inspector) parseRar4FileHeader(c *parse.Cursor, b *builder, h *rar4BlockHeader) error {
	unp, err := c.Uint32()
	if err != nil {
		return err
	}
	// host OS, file CRC, mtime, unpack version, method
	if err := c.Skip(11); err != nil {
		return err
	}
	nameLen, err := c.Uint16()
	if err != nil {
		return err
	}
	if nameLen == 0 || int(nameLen) > c.Remaining() {
		return fmt.Errorf("bad name length %d", nameLen)
	}
	// attributes
	if err := c.Skip(4); err != nil {
		return err
	}
	packed, unpacked := uint64(h.AddSize), uint64(unp)
	if h.Flags&rar4FileLarge != 0 {
		highPack, err := c.Uint32()
		if err != nil {
			return err
		}
		highUnp, err := c.Uint32()
		if err != nil {
			return err
		}
		packed |= uint64(highPack) << 32
		unpacked |= uint64(highUnp) << 32
	}
	name, err := c.Bytes(uint64(nameLen))
	if err != nil {
		return err
	}
	if h.Flags&rar4FileUnicode != 0 {
		// ASCII name, NUL, then the packed Unicode form.
		if i := bytes.IndexByte(name, 0); i > 0 {
			name = name[:i]
		}
	}
	var flags FileFlags
	if h.Flags&rar4FileEncrypted != 0 {
		flags |= FileEncrypted
	}
	if !b.addName(name, packed, unpacked, flags) {
		return errors.New("empty name")
	}
	return nil
}
