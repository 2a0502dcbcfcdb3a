package archivemeta

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
)

// ListedEntry is one member reported by a Lister.
type ListedEntry struct {
	Name      string
	Encrypted bool
}

// Lister lists the members of a complete 7z archive. It is used when the
// header is packed and cannot be walked directly.
type Lister interface {
	ListEntries(data []byte) ([]ListedEntry, error)
}

// ListError is returned by a Lister that could not finish. Encrypted is set
// when the failure was caused by missing key material.
type ListError struct {
	Encrypted bool
	Err       error
}

func (e *ListError) Error() string {
	if e.Encrypted {
		return fmt.Sprintf("list entries (encrypted): %v", e.Err)
	}
	return fmt.Sprintf("list entries: %v", e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// SevenZipLister lists archives with github.com/bodgit/sevenzip.
type SevenZipLister struct{}

// ListEntries implements Lister. Entries that fail to open or read are
// reported as encrypted when the reader says so.
func (SevenZipLister) ListEntries(data []byte) ([]ListedEntry, error) {
	r, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ListError{Encrypted: encryptedReadError(err), Err: err}
	}
	out := make([]ListedEntry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, ListedEntry{Name: f.Name, Encrypted: probeEncrypted(f)})
	}
	return out, nil
}

func probeEncrypted(f *sevenzip.File) bool {
	rc, err := f.Open()
	if err != nil {
		return encryptedReadError(err)
	}
	defer func() { _ = rc.Close() }()
	var one [1]byte
	if _, err := rc.Read(one[:]); err != nil && !errors.Is(err, io.EOF) {
		return encryptedReadError(err)
	}
	return false
}

func encryptedReadError(err error) bool {
	var re *sevenzip.ReadError
	return errors.As(err, &re) && re.Encrypted
}
