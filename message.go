package archivemeta

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/emersion/go-message"
)

// PartsFromMessage reads a MIME message and returns its leaf parts with
// decoded bodies. Multipart containers are walked recursively.
func PartsFromMessage(r io.Reader) ([]*Part, error) {
	ent, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	var parts []*Part
	if err := walkEntity(ent, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func walkEntity(ent *message.Entity, out *[]*Part) error {
	if mr := ent.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return fmt.Errorf("next part: %w", err)
			}
			if err := walkEntity(child, out); err != nil {
				return err
			}
		}
	}
	body, err := io.ReadAll(ent.Body)
	if err != nil {
		return fmt.Errorf("read part body: %w", err)
	}
	*out = append(*out, partFromEntity(ent, body))
	return nil
}

func partFromEntity(ent *message.Entity, body []byte) *Part {
	p := &Part{Data: body}
	if _, params, err := ent.Header.ContentDisposition(); err == nil {
		p.Filename = params["filename"]
	}
	if ent.Header.Get("Content-Type") == "" {
		p.ContentType = "text/plain"
		p.CTFlags |= CTText | CTMissing
	} else {
		mediaType, params, _ := ent.Header.ContentType()
		p.ContentType = strings.ToLower(mediaType)
		if strings.HasPrefix(p.ContentType, "text/") {
			p.CTFlags |= CTText
		}
		if p.Filename == "" {
			p.Filename = params["name"]
		}
	}
	p.DetectedExt = detectExt(body, p.Filename)
	return p
}

// detectExt prefers the container magic over the filename extension.
func detectExt(data []byte, filename string) string {
	if f := sniffFormat(data); f != nil {
		return f.ext
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// ProcessMessage walks a MIME message and inspects all of its parts.
func (in *Inspector) ProcessMessage(r io.Reader) ([]*Part, error) {
	parts, err := PartsFromMessage(r)
	if err != nil {
		return nil, err
	}
	in.Process(parts)
	return parts, nil
}
