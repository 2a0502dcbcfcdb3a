package archivemeta

import (
	"fmt"

	"github.com/javi11/archivemeta/internal/parse"
)

const (
	rar5BlockMain      = 1
	rar5BlockFile      = 2
	rar5BlockEncrypted = 4
	rar5BlockEnd       = 5

	rar5HasExtra = 0x0001
	rar5HasData  = 0x0002

	rar5FileDirectory = 0x0001
	rar5FileMtime     = 0x0002
	rar5FileCRC       = 0x0004

	rar5ExtraCrypt = 0x01
)

type rar5BlockHeader struct {
	Type      uint64
	Flags     uint64
	ExtraSize uint64
	DataSize  uint64
}

// parseRar5 walks the block chain. Every block is skipped by its declared
// header and data sizes regardless of how much of it was interpreted.
func (in *Inspector) parseRar5(c *parse.Cursor, b *builder) error {
	first := true
	for c.Remaining() > 0 {
		blockStart := c.Pos()
		if err := c.Skip(4); err != nil { // CRC32
			return fmt.Errorf("block crc at %d: %w", blockStart, err)
		}
		headSize, err := c.RarVint()
		if err != nil {
			return fmt.Errorf("head size at %d: %w", blockStart, err)
		}
		if headSize == 0 {
			return fmt.Errorf("zero head size at %d", blockStart)
		}
		headStart := c.Pos()
		head, err := c.Sub(headSize)
		if err != nil {
			return fmt.Errorf("header at %d: %w", blockStart, err)
		}
		h, err := readRar5BlockHeader(head)
		if err != nil {
			return fmt.Errorf("block at %d: %w", blockStart, err)
		}
		if first {
			if h.Type == rar5BlockEncrypted {
				b.setEncrypted()
				return nil
			}
			if h.Type != rar5BlockMain {
				return fmt.Errorf("first block type %d is not a main header", h.Type)
			}
			first = false
		}
		switch h.Type {
		case rar5BlockEncrypted:
			b.setEncrypted()
			return nil
		case rar5BlockFile:
			if err := in.parseRar5FileHeader(head, b, h); err != nil {
				return fmt.Errorf("file header at %d: %w", blockStart, err)
			}
		case rar5BlockEnd:
			return nil
		}
		if err := nextSection(c, uint64(headStart)+headSize+h.DataSize); err != nil {
			return fmt.Errorf("block at %d: %w", blockStart, err)
		}
	}
	return nil
}

func readRar5BlockHeader(head *parse.Cursor) (*rar5BlockHeader, error) {
	var h rar5BlockHeader
	var err error
	if h.Type, err = head.RarVint(); err != nil {
		return nil, fmt.Errorf("block type: %w", err)
	}
	if h.Flags, err = head.RarVint(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	if h.Flags&rar5HasExtra != 0 {
		if h.ExtraSize, err = head.RarVint(); err != nil {
			return nil, fmt.Errorf("extra area size: %w", err)
		}
	}
	if h.Flags&rar5HasData != 0 {
		if h.DataSize, err = head.RarVint(); err != nil {
			return nil, fmt.Errorf("data size: %w", err)
		}
	}
	return &h, nil
}

func (in *Inspector) parseRar5FileHeader(head *parse.Cursor, b *builder, h *rar5BlockHeader) error {
	// The extra area sits at the end of the header.
	if h.ExtraSize > uint64(head.Remaining()) {
		return fmt.Errorf("extra area size %d > %d", h.ExtraSize, head.Remaining())
	}
	extraStart := head.End() - int(h.ExtraSize)

	fileFlags, err := head.RarVint()
	if err != nil {
		return fmt.Errorf("file flags: %w", err)
	}
	unpSize, err := head.RarVint()
	if err != nil {
		return fmt.Errorf("unpacked size: %w", err)
	}
	if _, err := head.RarVint(); err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	if fileFlags&rar5FileDirectory != 0 {
		return nil
	}
	if fileFlags&rar5FileMtime != 0 {
		if err := head.Skip(4); err != nil {
			return fmt.Errorf("mtime: %w", err)
		}
	}
	if fileFlags&rar5FileCRC != 0 {
		if err := head.Skip(4); err != nil {
			return fmt.Errorf("crc32: %w", err)
		}
	}
	if _, err := head.RarVint(); err != nil {
		return fmt.Errorf("compression info: %w", err)
	}
	if _, err := head.RarVint(); err != nil {
		return fmt.Errorf("host os: %w", err)
	}
	nameLen, err := head.RarVint()
	if err != nil {
		return fmt.Errorf("name length: %w", err)
	}
	if nameLen == 0 {
		return fmt.Errorf("bad name length %d", nameLen)
	}
	name, err := head.Bytes(nameLen)
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}

	var flags FileFlags
	if h.ExtraSize > 0 && head.Seek(extraStart) == nil && rar5ExtraEncrypted(head) {
		flags |= FileEncrypted
	}
	if !b.addName(name, h.DataSize, unpSize, flags) {
		return fmt.Errorf("empty name")
	}
	return nil
}

// rar5ExtraEncrypted scans (size, type) records of a file extra area for
// the encryption record.
func rar5ExtraEncrypted(c *parse.Cursor) bool {
	for c.Remaining() > 0 {
		size, err := c.RarVint()
		if err != nil || size == 0 {
			return false
		}
		rec, err := c.Sub(size)
		if err != nil {
			return false
		}
		typ, err := rec.RarVint()
		if err != nil {
			return false
		}
		if typ == rar5ExtraCrypt {
			return true
		}
	}
	return false
}
