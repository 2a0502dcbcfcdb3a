package archivemeta

import (
	"bytes"
	"strings"
)

// CTFlags describes the declared content type of a part.
type CTFlags uint8

const (
	CTText    CTFlags = 1 << iota // declared as text/*
	CTMissing                     // no Content-Type header, type was assumed
	CTBroken                      // declared type contradicts the content
)

// Part is one message part offered for inspection. Archive is filled in
// when the part is recognised.
type Part struct {
	Data        []byte
	Filename    string
	ContentType string // "type/subtype", lower case
	DetectedExt string
	CTFlags     CTFlags
	Archive     *Archive
}

type parseFunc func(in *Inspector, data []byte, declaredName string) (*Archive, error)

type format struct {
	ext   string
	magic []byte
	parse parseFunc
}

var formats = []format{
	{ext: "zip", magic: sigZipLocal, parse: (*Inspector).ParseZip},
	{ext: "rar", magic: sigRar4[:6], parse: (*Inspector).ParseRar},
	{ext: "7z", magic: sig7Zip, parse: (*Inspector).Parse7Zip},
	{ext: "gz", magic: sigGzip, parse: (*Inspector).ParseGzip},
}

func formatByExt(ext string) *format {
	for i := range formats {
		if strings.EqualFold(formats[i].ext, ext) {
			return &formats[i]
		}
	}
	return nil
}

// Process inspects every part that has data and no archive yet.
func (in *Inspector) Process(parts []*Part) {
	for _, p := range parts {
		in.Detect(p)
	}
}

// Detect inspects a single part and returns the archive attached to it, if
// any. Parse failures are logged and leave the part untouched.
func (in *Inspector) Detect(p *Part) *Archive {
	if p == nil || len(p.Data) == 0 || p.Archive != nil {
		return p.archive()
	}
	f := in.selectFormat(p)
	if f == nil {
		return nil
	}
	arc, err := f.parse(in, p.Data, p.Filename)
	if err != nil {
		in.logger.Debug("archive not recognised", "format", f.ext, "reason", err, "filename", p.Filename)
		return nil
	}
	p.Archive = arc
	if p.CTFlags&CTText != 0 {
		in.logger.Info("archive with text content type", "format", arc.Type.String(), "content_type", p.ContentType, "filename", p.Filename)
		if p.CTFlags&CTMissing == 0 {
			p.CTFlags |= CTBroken
		}
	}
	return arc
}

func (p *Part) archive() *Archive {
	if p == nil {
		return nil
	}
	return p.Archive
}

// selectFormat uses the detected extension. Parts without one are matched
// by magic; a content type or filename claiming a format is only believed
// when the magic agrees, so the magic decides either way.
func (in *Inspector) selectFormat(p *Part) *format {
	if p.DetectedExt != "" {
		return formatByExt(p.DetectedExt)
	}
	return sniffFormat(p.Data)
}

func sniffFormat(data []byte) *format {
	for i := range formats {
		f := &formats[i]
		if len(data) > len(f.magic) && bytes.HasPrefix(data, f.magic) {
			return f
		}
	}
	return nil
}
