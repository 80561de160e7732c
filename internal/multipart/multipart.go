// Package multipart implements a binary-safe multipart/form-data codec.
//
// The codec operates on raw bytes end to end so binary file payloads survive
// decode/encode untouched. Interior boundaries are matched only when preceded
// by a line break, so a payload that happens to contain the boundary token
// elsewhere does not split a part.
//
// Policy: when multiple parts share a field name, the last one wins. A part
// carrying a filename in its Content-Disposition is a file part and keeps its
// payload verbatim; any other part is a scalar field and its value is
// whitespace-trimmed.
package multipart

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidMultipart is wrapped by every decode failure.
var ErrInvalidMultipart = errors.New("invalid multipart data")

// Part is one decoded or to-be-encoded section of a multipart body.
// Filename being non-empty marks a file part.
type Part struct {
	Name        string
	Filename    string
	ContentType string
	Data        []byte
}

// Form maps field names to their decoded parts.
type Form map[string]Part

// File returns the named file part, if present.
func (f Form) File(name string) (Part, bool) {
	p, ok := f[name]
	if !ok || p.Filename == "" {
		return Part{}, false
	}
	return p, true
}

// Value returns the named scalar field's value, or "" when absent.
func (f Form) Value(name string) string {
	p, ok := f[name]
	if !ok || p.Filename != "" {
		return ""
	}
	return string(p.Data)
}

var (
	dispositionNameRe     = regexp.MustCompile(`name="([^"]*)"`)
	dispositionFilenameRe = regexp.MustCompile(`filename="([^"]*)"`)
)

// Decode parses a raw multipart body delimited by boundary. It fails with an
// error wrapping ErrInvalidMultipart when the boundary is empty, the opening
// marker is absent, or a section is not terminated.
func Decode(body []byte, boundary string) (Form, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: empty boundary", ErrInvalidMultipart)
	}

	marker := []byte("--" + boundary)

	// The first marker sits at the start of the body or after a preamble
	// line break; interior markers always follow a line break.
	pos := 0
	switch {
	case bytes.HasPrefix(body, marker):
		pos = len(marker)
	default:
		idx := bytes.Index(body, append([]byte("\n"), marker...))
		if idx < 0 {
			return nil, fmt.Errorf("%w: boundary marker not found", ErrInvalidMultipart)
		}
		pos = idx + 1 + len(marker)
	}

	form := make(Form)
	for {
		rest := body[pos:]
		if bytes.HasPrefix(rest, []byte("--")) {
			// Closing marker.
			return form, nil
		}
		rest = skipLineBreak(rest)

		end, advance := findSectionEnd(rest, marker)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated part", ErrInvalidMultipart)
		}

		if part, ok := parseSection(rest[:end]); ok {
			form[part.Name] = part
		}
		pos = len(body) - len(rest) + end + advance
	}
}

// findSectionEnd locates the next interior boundary marker, which must be
// preceded by a line break. Returns the section length and how many bytes the
// line break plus marker consume.
func findSectionEnd(rest, marker []byte) (end, advance int) {
	crlf := append([]byte("\r\n"), marker...)
	if idx := bytes.Index(rest, crlf); idx >= 0 {
		return idx, len(crlf)
	}
	lf := append([]byte("\n"), marker...)
	if idx := bytes.Index(rest, lf); idx >= 0 {
		return idx, len(lf)
	}
	return -1, 0
}

// parseSection splits one section into headers and payload and builds a Part.
// Sections without a field name are skipped.
func parseSection(section []byte) (Part, bool) {
	headers, data := splitHeaders(section)

	var part Part
	for _, line := range strings.Split(string(headers), "\n") {
		line = strings.TrimRight(line, "\r")
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "content-disposition:"):
			if m := dispositionNameRe.FindStringSubmatch(line); m != nil {
				part.Name = m[1]
			}
			if m := dispositionFilenameRe.FindStringSubmatch(line); m != nil {
				part.Filename = m[1]
			}
		case strings.HasPrefix(lower, "content-type:"):
			part.ContentType = strings.TrimSpace(line[len("content-type:"):])
		}
	}
	if part.Name == "" {
		return Part{}, false
	}

	if part.Filename != "" {
		part.Data = data
	} else {
		part.Data = []byte(strings.TrimSpace(string(data)))
	}
	return part, true
}

// splitHeaders separates a section's header block from its payload on the
// first blank line. A section with no blank line is all headers.
func splitHeaders(section []byte) (headers, data []byte) {
	if idx := bytes.Index(section, []byte("\r\n\r\n")); idx >= 0 {
		return section[:idx], section[idx+4:]
	}
	if idx := bytes.Index(section, []byte("\n\n")); idx >= 0 {
		return section[:idx], section[idx+2:]
	}
	return section, nil
}

func skipLineBreak(b []byte) []byte {
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return b[2:]
	}
	if bytes.HasPrefix(b, []byte("\n")) {
		return b[1:]
	}
	return b
}

// Encode serializes parts into a multipart body delimited by boundary,
// terminated by the closing marker. Part order is preserved.
func Encode(parts []Part, boundary string) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString("--" + boundary + "\r\n")
		if p.Filename != "" {
			fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q; filename=%q\r\n", p.Name, p.Filename)
			ct := p.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			buf.WriteString("Content-Type: " + ct + "\r\n")
		} else {
			fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q\r\n", p.Name)
		}
		buf.WriteString("\r\n")
		buf.Write(p.Data)
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")
	return buf.Bytes()
}

// NewBoundary generates a boundary token with enough randomness that it is
// unlikely to appear inside any part payload.
func NewBoundary() string {
	var b [12]byte
	rand.Read(b[:])
	return "----ipinproxy-" + hex.EncodeToString(b[:])
}

// BoundaryFromContentType extracts the boundary parameter from a
// multipart/form-data Content-Type header value.
func BoundaryFromContentType(contentType string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "multipart/form-data") {
		return "", fmt.Errorf("%w: content type %q is not multipart/form-data", ErrInvalidMultipart, contentType)
	}
	for _, param := range strings.Split(contentType, ";") {
		param = strings.TrimSpace(param)
		if rest, ok := strings.CutPrefix(param, "boundary="); ok {
			return strings.Trim(rest, `"`), nil
		}
	}
	return "", fmt.Errorf("%w: missing boundary parameter", ErrInvalidMultipart)
}
