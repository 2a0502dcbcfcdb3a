package archivemeta

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem abstracts the operations needed to read attachments from disk.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	Open(path string) (fs.File, error)
}

type osFS struct{}

func (osFS) Stat(p string) (fs.FileInfo, error) { return os.Stat(p) }
func (osFS) Open(p string) (fs.File, error)     { return os.Open(p) }

var defaultFS osFS

// InspectFile reads a file and inspects it as an attachment carrying the
// file's base name. A nil fsys uses the OS filesystem.
func (in *Inspector) InspectFile(fsys FileSystem, path string) (*Archive, error) {
	if fsys == nil {
		fsys = defaultFS
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	p := &Part{Data: data, Filename: name, DetectedExt: detectExt(data, name)}
	fm := in.selectFormat(p)
	if fm == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotArchive)
	}
	arc, err := fm.parse(in, data, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return arc, nil
}

// InspectFiles inspects each path in order. Stops at first error.
func (in *Inspector) InspectFiles(fsys FileSystem, paths []string) ([]*Archive, error) {
	res := make([]*Archive, 0, len(paths))
	for _, p := range paths {
		arc, err := in.InspectFile(fsys, p)
		if err != nil {
			return nil, err
		}
		res = append(res, arc)
	}
	return res, nil
}
