package archivemeta

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var partRe = regexp.MustCompile(`(?i)^(?P<prefix>.*?)(?P<sep>[_.-]?)part(?P<num>\d+)(?P<suffix>\.rar)$`)

// DiscoverVolumes finds the parts of a multi-volume RAR set given its first
// volume. It understands name.partN.rar and name.rar + name.rNN naming; any
// other path is returned alone.
func DiscoverVolumes(fsys FileSystem, first string) ([]string, error) {
	if fsys == nil {
		fsys = defaultFS
	}
	base := filepath.Base(first)
	dir := filepath.Dir(first)
	if m := partRe.FindStringSubmatch(base); m != nil {
		prefix, sep, num, suffix := m[1], m[2], m[3], m[4]
		var vols []string
		for i := 1; i < 10000; i++ {
			p := filepath.Join(dir, fmt.Sprintf("%s%spart%0*d%s", prefix, sep, len(num), i, suffix))
			if _, err := fsys.Stat(p); err != nil {
				if i == 1 {
					return nil, fmt.Errorf("first volume not found: %s", p)
				}
				break
			}
			vols = append(vols, p)
		}
		return vols, nil
	}
	if strings.EqualFold(filepath.Ext(base), ".rar") {
		if _, err := fsys.Stat(first); err != nil {
			return nil, err
		}
		vols := []string{first}
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		for i := 0; i < 1000; i++ {
			p := filepath.Join(dir, fmt.Sprintf("%s.r%02d", stem, i))
			if _, err := fsys.Stat(p); err != nil {
				break
			}
			vols = append(vols, p)
		}
		return vols, nil
	}
	return []string{first}, nil
}

// InspectVolumes inspects every volume of a set and merges the results.
func (in *Inspector) InspectVolumes(fsys FileSystem, first string) (*Archive, error) {
	vols, err := DiscoverVolumes(fsys, first)
	if err != nil {
		return nil, err
	}
	arcs, err := in.InspectFiles(fsys, vols)
	if err != nil {
		return nil, err
	}
	return MergeVolumes(arcs), nil
}

// MergeVolumes combines per-volume listings. Members split across volumes
// appear once, in first-seen order, with their packed sizes summed and the
// first non-zero unpacked size kept. Flags are OR-ed.
func MergeVolumes(arcs []*Archive) *Archive {
	if len(arcs) == 0 {
		return nil
	}
	out := &Archive{Type: arcs[0].Type, Name: arcs[0].Name}
	index := make(map[string]int)
	for _, a := range arcs {
		out.Flags |= a.Flags
		out.Size += a.Size
		for _, f := range a.Files {
			i, ok := index[f.Name]
			if !ok {
				index[f.Name] = len(out.Files)
				out.Files = append(out.Files, f)
				continue
			}
			m := &out.Files[i]
			m.CompressedSize += f.CompressedSize
			if m.UncompressedSize == 0 {
				m.UncompressedSize = f.UncompressedSize
			}
			m.Flags |= f.Flags
		}
	}
	return out
}
