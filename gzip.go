package archivemeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/javi11/archivemeta/internal/parse"
)

const (
	gzipHeaderLen = 10

	gzipFlagMultipart = 1 << 1
	gzipFlagExtra     = 1 << 2
	gzipFlagName      = 1 << 3
	gzipFlagEncrypted = 1 << 5
)

// ParseGzip extracts the member name of a gzip stream. Without an embedded
// name it is derived from declaredName by dropping the last extension.
func (in *Inspector) ParseGzip(data []byte, declaredName string) (*Archive, error) {
	if len(data) <= gzipHeaderLen || !bytes.HasPrefix(data, sigGzip) {
		return nil, fmt.Errorf("%w: no gzip signature", ErrNotArchive)
	}
	b := in.newBuilder(TypeGzip, declaredName)
	flags := data[3]
	if flags&gzipFlagEncrypted != 0 {
		b.setEncrypted()
	}
	compressed := uint64(len(data))
	var uncompressed uint64
	if len(data) >= gzipHeaderLen+8 {
		uncompressed = uint64(binary.LittleEndian.Uint32(data[len(data)-4:]))
	}

	if flags&gzipFlagName != 0 {
		name, err := gzipEmbeddedName(data, flags)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %w", ErrMalformed, err)
		}
		if b.addName(name, compressed, uncompressed, 0) {
			return b.finish(len(data)), nil
		}
	}
	name, ok := gzipPseudoName(declaredName)
	if !ok {
		return nil, fmt.Errorf("%w: gzip without member name", ErrMalformed)
	}
	in.logger.Debug("gzip member name from attachment name", "format", "gz", "filename", declaredName, "name", name)
	b.addDecoded(name, compressed, uncompressed, 0)
	return b.finish(len(data)), nil
}

func gzipEmbeddedName(data []byte, flags byte) ([]byte, error) {
	c := parse.NewCursor(data)
	skip := uint64(gzipHeaderLen)
	if flags&gzipFlagMultipart != 0 {
		skip += 2
	}
	if err := c.Skip(skip); err != nil {
		return nil, err
	}
	if flags&gzipFlagExtra != 0 {
		n, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		if int(n) >= c.Remaining() {
			return nil, fmt.Errorf("extra field of %d bytes", n)
		}
		_ = c.Skip(uint64(n))
	}
	rest, _ := c.Bytes(uint64(c.Remaining()))
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return nil, fmt.Errorf("name at %d not terminated", c.Pos()-len(rest))
	}
	return rest[:i], nil
}

// gzipPseudoName turns "dir/report.txt.gz" into "report.txt" and
// "report.gz" into "report".
func gzipPseudoName(declared string) (string, bool) {
	if i := strings.LastIndexByte(declared, '/'); i >= 0 {
		declared = declared[i+1:]
	}
	dot := strings.LastIndexByte(declared, '.')
	if dot <= 0 {
		return "", false
	}
	return declared[:dot], true
}
