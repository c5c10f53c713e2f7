// Package mime detects content types and text encodings of fetched files.
package mime

import (
	"io"
	stdmime "mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultType is reported when nothing more specific is known.
const DefaultType = "application/octet-stream"

// extensions covers common names the platform table may lack.
var extensions = map[string]string{
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Sniffer detects MIME types from content, falling back to the filename.
type Sniffer struct{}

// NewSniffer returns a content sniffer.
func NewSniffer() *Sniffer {
	return &Sniffer{}
}

// Sniff returns the MIME type of r without parameters. When r is nil or its
// content is not recognized beyond a generic type, the filename extension
// decides.
func (s *Sniffer) Sniff(r io.Reader, filename string) string {
	byName := ByFilename(filename)
	if r == nil {
		return orDefault(byName)
	}
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return orDefault(byName)
	}
	detected := base(m.String())
	if byName != "" && (detected == DefaultType || detected == "text/plain") {
		return byName
	}
	return detected
}

// ByFilename maps a filename extension to a MIME type, or "".
func ByFilename(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return ""
	}
	if t, ok := extensions[ext]; ok {
		return t
	}
	return base(stdmime.TypeByExtension(ext))
}

// IsText reports whether mimeType carries text worth charset detection.
func IsText(mimeType string) bool {
	mt := base(mimeType)
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case strings.HasSuffix(mt, "+xml"), strings.HasSuffix(mt, "+json"):
		return true
	case mt == "application/json", mt == "application/xml", mt == "application/javascript":
		return true
	}
	return false
}

func base(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func orDefault(mimeType string) string {
	if mimeType == "" {
		return DefaultType
	}
	return mimeType
}
