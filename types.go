package archivemeta

import "errors"

// Type identifies the container format of an inspected attachment.
type Type int

const (
	TypeUnknown Type = iota
	TypeZip
	TypeRar
	Type7Zip
	TypeGzip
)

// String returns the short format name used in logs.
func (t Type) String() string {
	switch t {
	case TypeZip:
		return "zip"
	case TypeRar:
		return "rar"
	case Type7Zip:
		return "7z"
	case TypeGzip:
		return "gz"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ArchiveFlags is the archive level flag set.
type ArchiveFlags uint8

const (
	ArchiveEncrypted ArchiveFlags = 1 << iota
	ArchiveHasObfuscatedFiles
)

// FileFlags is the per-member flag set.
type FileFlags uint8

const (
	FileEncrypted FileFlags = 1 << iota
	FileObfuscated
)

// File describes one archive member. Name is never empty.
type File struct {
	Name             string
	CompressedSize   uint64
	UncompressedSize uint64
	Flags            FileFlags
}

// Encrypted reports whether the member is marked as encrypted.
func (f File) Encrypted() bool { return f.Flags&FileEncrypted != 0 }

// Obfuscated reports whether the member name contained hidden or
// unprintable characters.
func (f File) Obfuscated() bool { return f.Flags&FileObfuscated != 0 }

// Archive is the metadata recovered from one attachment.
type Archive struct {
	Type  Type
	Files []File
	Flags ArchiveFlags
	Size  int64  // total parsed input length
	Name  string // declared filename of the owning part, if any
}

// Encrypted reports archive level encryption evidence.
func (a *Archive) Encrypted() bool { return a.Flags&ArchiveEncrypted != 0 }

// HasObfuscatedFiles reports whether any member name was obfuscated.
func (a *Archive) HasObfuscatedFiles() bool { return a.Flags&ArchiveHasObfuscatedFiles != 0 }

// Sentinel errors returned by the Parse* readers. Dispatching code treats both
// as "not this archive".
var (
	ErrNotArchive = errors.New("not an archive of this type")
	ErrMalformed  = errors.New("malformed archive")
)

// builder owns an Archive for the duration of one parse.
type builder struct {
	arc  *Archive
	norm *Normalizer
}

func newBuilder(t Type, declaredName string, norm *Normalizer) *builder {
	return &builder{arc: &Archive{Type: t, Name: declaredName}, norm: norm}
}

// addName normalises raw and appends a member. Empty raw names are dropped
// and reported as false.
func (b *builder) addName(raw []byte, compressed, uncompressed uint64, flags FileFlags) bool {
	name, obfuscated, ok := b.norm.Normalize(raw)
	if !ok {
		return false
	}
	b.addFile(name, obfuscated, compressed, uncompressed, flags)
	return true
}

// addDecoded appends a member whose name is already UTF-8.
func (b *builder) addDecoded(name string, compressed, uncompressed uint64, flags FileFlags) bool {
	if name == "" {
		return false
	}
	b.addFile(name, b.norm.scan(name), compressed, uncompressed, flags)
	return true
}

func (b *builder) addFile(name string, obfuscated bool, compressed, uncompressed uint64, flags FileFlags) {
	if obfuscated {
		flags |= FileObfuscated
		b.arc.Flags |= ArchiveHasObfuscatedFiles
	}
	if flags&FileEncrypted != 0 {
		b.arc.Flags |= ArchiveEncrypted
	}
	b.arc.Files = append(b.arc.Files, File{
		Name:             name,
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
		Flags:            flags,
	})
}

func (b *builder) setEncrypted() { b.arc.Flags |= ArchiveEncrypted }

func (b *builder) finish(size int) *Archive {
	b.arc.Size = int64(size)
	return b.arc
}
