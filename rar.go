package archivemeta

import (
	"bytes"
	"fmt"

	"github.com/javi11/archivemeta/internal/parse"
)

// ParseRar lists a RAR archive. The signature selects the 5.0 or the
// 1.5-4.x header layout.
func (in *Inspector) ParseRar(data []byte, declaredName string) (*Archive, error) {
	b := in.newBuilder(TypeRar, declaredName)
	c := parse.NewCursor(data)
	var err error
	switch {
	case bytes.HasPrefix(data, sigRar5):
		_ = c.Skip(uint64(len(sigRar5)))
		err = in.parseRar5(c, b)
	case bytes.HasPrefix(data, sigRar4):
		_ = c.Skip(uint64(len(sigRar4)))
		err = in.parseRar4(c, b)
	default:
		return nil, fmt.Errorf("%w: no rar signature", ErrNotArchive)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rar: %w", ErrMalformed, err)
	}
	return b.finish(len(data)), nil
}

// nextSection moves c to pos. A target past the buffer end means the
// archive was cut off.
func nextSection(c *parse.Cursor, pos uint64) error {
	if pos > uint64(c.End()) {
		return fmt.Errorf("next block at %d past end %d: %w", pos, c.End(), parse.ErrTruncated)
	}
	return c.Seek(int(pos))
}
