// Package parse holds the low level, bounds-checked readers shared by the
// archive format parsers.
package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated means a read would cross the end of the current window.
	ErrTruncated = errors.New("truncated")
	// ErrOutOfRange means a seek target lies outside the current window.
	ErrOutOfRange = errors.New("offset out of range")
)

// Cursor reads little-endian values from a borrowed, immutable buffer. Every
// read is checked against end, which may be narrower than the buffer when
// the cursor was obtained through Sub.
type Cursor struct {
	buf   []byte
	start int
	pos   int
	end   int
}

// NewCursor returns a cursor spanning all of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b, end: len(b)}
}

// Pos returns the absolute offset in the underlying buffer.
func (c *Cursor) Pos() int { return c.pos }

// End returns the absolute offset of the window end.
func (c *Cursor) End() int { return c.end }

// Remaining returns the number of unread bytes in the window.
func (c *Cursor) Remaining() int { return c.end - c.pos }

// Seek moves to an absolute offset inside the window.
func (c *Cursor) Seek(pos int) error {
	if pos < c.start || pos > c.end {
		return fmt.Errorf("seek to %d (window %d..%d): %w", pos, c.start, c.end, ErrOutOfRange)
	}
	c.pos = pos
	return nil
}

// Skip advances by n bytes.
func (c *Cursor) Skip(n uint64) error {
	if n > uint64(c.Remaining()) {
		return fmt.Errorf("skip %d at %d: %w", n, c.pos, ErrTruncated)
	}
	c.pos += int(n)
	return nil
}

// Peek returns the next byte without consuming it.
func (c *Cursor) Peek() (byte, error) {
	if c.pos >= c.end {
		return 0, fmt.Errorf("peek at %d: %w", c.pos, ErrTruncated)
	}
	return c.buf[c.pos], nil
}

// Byte consumes one byte.
func (c *Cursor) Byte() (byte, error) {
	b, err := c.Peek()
	if err != nil {
		return 0, err
	}
	c.pos++
	return b, nil
}

// Bytes consumes n bytes and returns them without copying.
func (c *Cursor) Bytes(n uint64) ([]byte, error) {
	if n > uint64(c.Remaining()) {
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, c.pos, ErrTruncated)
	}
	b := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return b, nil
}

// Uint16 consumes a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 consumes a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 consumes a little-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Sub consumes n bytes and returns a cursor restricted to them.
func (c *Cursor) Sub(n uint64) (*Cursor, error) {
	if n > uint64(c.Remaining()) {
		return nil, fmt.Errorf("section of %d bytes at %d: %w", n, c.pos, ErrTruncated)
	}
	sub := &Cursor{buf: c.buf, start: c.pos, pos: c.pos, end: c.pos + int(n)}
	c.pos += int(n)
	return sub, nil
}

// RarVint consumes a RAR5 variable-length integer.
func (c *Cursor) RarVint() (uint64, error) {
	v, n, err := ReadVarintFromSlice(c.buf[c.pos:c.end])
	if err != nil {
		return 0, fmt.Errorf("rar vint at %d: %w", c.pos, err)
	}
	c.pos += int(n)
	return v, nil
}

// SzVint consumes a 7z variable-length number.
func (c *Cursor) SzVint() (uint64, error) {
	v, n, err := ReadSzNumberFromSlice(c.buf[c.pos:c.end])
	if err != nil {
		return 0, fmt.Errorf("7z number at %d: %w", c.pos, err)
	}
	c.pos += int(n)
	return v, nil
}
