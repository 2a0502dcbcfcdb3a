package archivemeta

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/javi11/archivemeta/internal/parse"
	"github.com/javi11/archivemeta/internal/util"
)

// Property IDs of the 7z header.
const (
	szEnd                   = 0x00
	szHeader                = 0x01
	szArchiveProperties     = 0x02
	szAdditionalStreamsInfo = 0x03
	szMainStreamsInfo       = 0x04
	szFilesInfo             = 0x05
	szPackInfo              = 0x06
	szUnPackInfo            = 0x07
	szSubStreamsInfo        = 0x08
	szSize                  = 0x09
	szCRC                   = 0x0A
	szFolder                = 0x0B
	szCodersUnPackSize      = 0x0C
	szNumUnPackStream       = 0x0D
	szName                  = 0x11
	szEncodedHeader         = 0x17
)

const (
	szStartHeaderLen = 32

	szCoderIDSizeMask = 0x0F
	szCoderComplex    = 0x10
	szCoderHasAttrs   = 0x20
	szCoderAlternate  = 0x80
)

// Coder IDs of the 7z ciphers.
const (
	szCipherZip    = 0x06F10101
	szCipherRar29  = 0x06F10303
	szCipherAES256 = 0x06F10701
)

// szCoderID prints a coder ID in the usual 8 digit hex form when logged.
type szCoderID uint64

func (id szCoderID) String() string { return fmt.Sprintf("%08X", uint64(id)) }

func isSzCipher(id uint64) bool {
	return id == szCipherZip || id == szCipherRar29 || id == szCipherAES256
}

var errSzLimit = errors.New("7z item count over limit")

// Parse7Zip walks the 7z header tree. Once the start header is valid the
// archive is returned even when a later section is malformed, carrying
// whatever was collected up to that point.
func (in *Inspector) Parse7Zip(data []byte, declaredName string) (*Archive, error) {
	if len(data) <= szStartHeaderLen || !bytes.HasPrefix(data, sig7Zip) {
		return nil, fmt.Errorf("%w: no 7z signature", ErrNotArchive)
	}
	c := parse.NewCursor(data)
	_ = c.Skip(12) // signature, version, start header CRC
	offset, _ := c.Uint64()
	length, _ := c.Uint64()
	_ = c.Skip(4)

	if offset >= uint64(len(data)-szStartHeaderLen) {
		return nil, fmt.Errorf("%w: next header offset %d past end", ErrMalformed, offset)
	}
	start := szStartHeaderLen + int(offset)
	end := len(data)
	if length < uint64(end-start) {
		end = start + int(length)
	}
	hc := parse.NewCursor(data[:end])
	_ = hc.Seek(start)

	p := &szParser{in: in, b: in.newBuilder(Type7Zip, declaredName), data: data}
	if err := p.run(hc); err != nil {
		in.logger.Debug("7z header walk stopped", "format", "7z", "reason", err, "filename", declaredName)
	}
	return p.b.finish(len(data)), nil
}

// szParser carries the state shared between 7z header sections. The
// folder layout collected by kUnPackInfo sizes the digest block of a
// following kSubStreamsInfo.
type szParser struct {
	in   *Inspector
	b    *builder
	data []byte

	folderOutStreams []uint64
	folderCRCDefined []bool
}

func (p *szParser) run(c *parse.Cursor) error {
	for {
		tag, err := c.Byte()
		if err != nil {
			return err
		}
		switch tag {
		case szHeader:
		case szArchiveProperties:
			if err := skipSzArchiveProperties(c); err != nil {
				return fmt.Errorf("archive properties: %w", err)
			}
		case szMainStreamsInfo, szAdditionalStreamsInfo:
			if err := p.readStreamsInfo(c); err != nil {
				return fmt.Errorf("streams info: %w", err)
			}
		case szFilesInfo:
			if err := p.readFilesInfo(c); err != nil {
				return fmt.Errorf("files info: %w", err)
			}
		case szEncodedHeader:
			return p.readEncodedHeader(c)
		case szEnd:
			return nil
		default:
			return fmt.Errorf("unknown section 0x%02x at %d", tag, c.Pos()-1)
		}
	}
}

func skipSzArchiveProperties(c *parse.Cursor) error {
	for {
		typ, err := c.Byte()
		if err != nil {
			return err
		}
		if typ == 0 {
			return nil
		}
		size, err := c.SzVint()
		if err != nil {
			return err
		}
		if err := c.Skip(size); err != nil {
			return err
		}
	}
}

// readEncodedHeader handles a packed header. Its streams info still names
// the coders, which is enough to see an encrypted header; names come from
// the Lister.
func (p *szParser) readEncodedHeader(c *parse.Cursor) error {
	if err := p.readStreamsInfo(c); err != nil {
		p.in.logger.Debug("7z encoded header streams", "format", "7z", "reason", err)
	}
	if p.in.lister == nil {
		return nil
	}
	entries, err := p.in.lister.ListEntries(p.data)
	var le *ListError
	if errors.As(err, &le) && le.Encrypted {
		p.b.setEncrypted()
	}
	p.b.arc.Files = p.b.arc.Files[:0]
	for _, e := range entries {
		var flags FileFlags
		if e.Encrypted {
			flags |= FileEncrypted
		}
		p.b.addDecoded(e.Name, 0, 0, flags)
	}
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	return nil
}

func (p *szParser) readStreamsInfo(c *parse.Cursor) error {
	for {
		tag, err := c.Byte()
		if err != nil {
			return err
		}
		switch tag {
		case szPackInfo:
			err = readSzPackInfo(c)
		case szUnPackInfo:
			err = p.readUnPackInfo(c)
		case szSubStreamsInfo:
			err = p.readSubStreamsInfo(c)
		case szEnd:
			return nil
		default:
			return fmt.Errorf("unknown streams property 0x%02x", tag)
		}
		if err != nil {
			return err
		}
	}
}

func readSzCount(c *parse.Cursor) (uint64, error) {
	n, err := c.SzVint()
	if err != nil {
		return 0, err
	}
	if n > MaxSevenZipItems {
		return 0, fmt.Errorf("%w: %d", errSzLimit, n)
	}
	return n, nil
}

func readSzPackInfo(c *parse.Cursor) error {
	if _, err := c.SzVint(); err != nil { // pack position
		return err
	}
	n, err := readSzCount(c)
	if err != nil {
		return err
	}
	for {
		tag, err := c.Byte()
		if err != nil {
			return err
		}
		switch tag {
		case szSize:
			for i := uint64(0); i < n; i++ {
				if _, err := c.SzVint(); err != nil {
					return err
				}
			}
		case szCRC:
			if _, err := readSzDigests(c, n); err != nil {
				return err
			}
		case szEnd:
			return nil
		default:
			return fmt.Errorf("unknown pack info property 0x%02x", tag)
		}
	}
}

// readSzDigests reads a digest block for n items and reports which of them
// carry a CRC.
func readSzDigests(c *parse.Cursor, n uint64) ([]bool, error) {
	allDefined, err := c.Byte()
	if err != nil {
		return nil, err
	}
	defined := make([]bool, n)
	count := n
	if allDefined != 0 {
		for i := range defined {
			defined[i] = true
		}
	} else {
		bits, err := c.Bytes((n + 7) / 8)
		if err != nil {
			return nil, err
		}
		count = 0
		for i := range defined {
			if bits[i/8]&(0x80>>(i%8)) != 0 {
				defined[i] = true
				count++
			}
		}
	}
	if err := c.Skip(4 * count); err != nil {
		return nil, err
	}
	return defined, nil
}

func (p *szParser) readUnPackInfo(c *parse.Cursor) error {
	tag, err := c.Byte()
	if err != nil {
		return err
	}
	if tag != szFolder {
		return fmt.Errorf("expected folder list, got 0x%02x", tag)
	}
	n, err := readSzCount(c)
	if err != nil {
		return err
	}
	external, err := c.Byte()
	if err != nil {
		return err
	}
	if external != 0 {
		return errors.New("external folder list")
	}
	p.folderOutStreams = make([]uint64, n)
	p.folderCRCDefined = make([]bool, n)
	var totalOut uint64
	for i := range p.folderOutStreams {
		out, err := p.readFolder(c)
		if err != nil {
			return fmt.Errorf("folder %d: %w", i, err)
		}
		p.folderOutStreams[i] = out
		totalOut += out
	}
	if tag, err = c.Byte(); err != nil {
		return err
	}
	if tag != szCodersUnPackSize {
		return fmt.Errorf("expected unpack sizes, got 0x%02x", tag)
	}
	for i := uint64(0); i < totalOut; i++ {
		if _, err := c.SzVint(); err != nil {
			return err
		}
	}
	for {
		tag, err := c.Byte()
		if err != nil {
			return err
		}
		switch tag {
		case szCRC:
			if p.folderCRCDefined, err = readSzDigests(c, n); err != nil {
				return err
			}
		case szEnd:
			return nil
		default:
			return fmt.Errorf("unknown unpack info property 0x%02x", tag)
		}
	}
}

// readFolder walks one folder's coders and returns its output stream count.
func (p *szParser) readFolder(c *parse.Cursor) (uint64, error) {
	numCoders, err := readSzCount(c)
	if err != nil {
		return 0, err
	}
	if numCoders == 0 {
		return 0, errors.New("folder without coders")
	}
	var inStreams, outStreams uint64
	for i := uint64(0); i < numCoders; i++ {
		flags, err := c.Byte()
		if err != nil {
			return 0, err
		}
		if flags&szCoderAlternate != 0 {
			return 0, errors.New("alternative coder methods")
		}
		idb, err := c.Bytes(uint64(flags & szCoderIDSizeMask))
		if err != nil {
			return 0, err
		}
		if len(idb) > 8 {
			return 0, fmt.Errorf("coder id of %d bytes", len(idb))
		}
		var id uint64
		for _, x := range idb {
			id = id<<8 | uint64(x)
		}
		if isSzCipher(id) {
			p.in.logger.Debug("7z cipher coder", "format", "7z", "coder", szCoderID(id))
			p.b.setEncrypted()
		}
		if flags&szCoderComplex != 0 {
			in, err := readSzCount(c)
			if err != nil {
				return 0, err
			}
			out, err := readSzCount(c)
			if err != nil {
				return 0, err
			}
			inStreams += in
			outStreams += out
		} else {
			inStreams++
			outStreams++
		}
		if flags&szCoderHasAttrs != 0 {
			size, err := c.SzVint()
			if err != nil {
				return 0, err
			}
			if err := c.Skip(size); err != nil {
				return 0, err
			}
		}
	}
	if outStreams == 0 || outStreams > MaxSevenZipItems || inStreams > MaxSevenZipItems {
		return 0, fmt.Errorf("%w: %d in, %d out", errSzLimit, inStreams, outStreams)
	}
	bindPairs := outStreams - 1
	for i := uint64(0); i < bindPairs; i++ {
		if _, err := c.SzVint(); err != nil { // in index
			return 0, err
		}
		if _, err := c.SzVint(); err != nil { // out index
			return 0, err
		}
	}
	if inStreams < bindPairs {
		return 0, fmt.Errorf("%d bind pairs for %d input streams", bindPairs, inStreams)
	}
	if packed := inStreams - bindPairs; packed > 1 {
		for i := uint64(0); i < packed; i++ {
			if _, err := c.SzVint(); err != nil {
				return 0, err
			}
		}
	}
	return outStreams, nil
}

func (p *szParser) readSubStreamsInfo(c *parse.Cursor) error {
	streams := make([]uint64, len(p.folderOutStreams))
	for i := range streams {
		streams[i] = 1
	}
	for {
		tag, err := c.Byte()
		if err != nil {
			return err
		}
		switch tag {
		case szNumUnPackStream:
			var total uint64
			for i := range streams {
				if streams[i], err = readSzCount(c); err != nil {
					return err
				}
				total += streams[i]
			}
			if total > MaxSevenZipItems {
				return fmt.Errorf("%w: %d streams", errSzLimit, total)
			}
		case szSize:
			for _, n := range streams {
				for j := uint64(1); j < n; j++ {
					if _, err := c.SzVint(); err != nil {
						return err
					}
				}
			}
		case szCRC:
			var unknown uint64
			for i, n := range streams {
				if n == 1 && i < len(p.folderCRCDefined) && p.folderCRCDefined[i] {
					continue
				}
				unknown += n
			}
			if _, err := readSzDigests(c, unknown); err != nil {
				return err
			}
		case szEnd:
			return nil
		default:
			return fmt.Errorf("unknown substreams property 0x%02x", tag)
		}
	}
}

func (p *szParser) readFilesInfo(c *parse.Cursor) error {
	numFiles, err := c.SzVint()
	if err != nil {
		return err
	}
	for {
		prop, err := c.Byte()
		if err != nil {
			return err
		}
		if prop == szEnd {
			return nil
		}
		size, err := c.SzVint()
		if err != nil {
			return err
		}
		body, err := c.Sub(size)
		if err != nil {
			return err
		}
		if prop == szName {
			p.readNames(body, numFiles)
		}
	}
}

// readNames decodes the NUL terminated UTF-16LE names. A missing or empty
// name ends the list; a name that fails to decode is skipped.
func (p *szParser) readNames(c *parse.Cursor, numFiles uint64) {
	external, err := c.Byte()
	if err != nil || external != 0 {
		return
	}
	for i := uint64(0); i < numFiles; i++ {
		rest, _ := c.Bytes(uint64(c.Remaining()))
		term := -1
		for j := 0; j+1 < len(rest); j += 2 {
			if rest[j] == 0 && rest[j+1] == 0 {
				term = j
				break
			}
		}
		if term <= 0 {
			p.in.logger.Debug("bad 7z name", "format", "7z", "index", i)
			return
		}
		_ = c.Seek(c.Pos() - len(rest) + term + 2)
		name, err := util.DecodeUTF16LE(rest[:term])
		if err != nil {
			p.in.logger.Debug("bad 7z name", "format", "7z", "index", i, "error", err)
			continue
		}
		p.b.addDecoded(name, 0, 0, 0)
	}
}
