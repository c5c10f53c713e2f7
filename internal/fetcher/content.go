package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/mime"
	"github.com/JakeFAU/remote-fetch/internal/spool"
)

// Content downloads remote files into spooled bodies.
type Content struct {
	Spooler *spool.Spooler
	Sniffer crawler.MimeSniffer
	// Charsets is consulted for text types when set; otherwise Charset applies.
	Charsets crawler.CharsetDetector
	Charset  string
}

// Downloaded is a fetched body with what was learned about it.
type Downloaded struct {
	Body     crawler.Body
	MimeType string
	Charset  string
}

// MimeFromName guesses a MIME type from the filename alone.
func (c *Content) MimeFromName(filename string) string {
	return c.Sniffer.Sniff(nil, filename)
}

// Download copies r into a temp file, sniffs its MIME type, enforces the
// limit for that type and spools the result. On any error the temp file
// is removed.
func (c *Content) Download(ctx context.Context, url, filename, prefix string, r io.Reader) (Downloaded, error) {
	f, err := c.Spooler.NewTempFile(prefix)
	if err != nil {
		return Downloaded{}, err
	}
	path := f.Name()
	_, copyErr := io.Copy(f, r)
	if err := errors.Join(copyErr, f.Close()); err != nil {
		c.Spooler.Remove(path)
		return Downloaded{}, fmt.Errorf("download %s: %w", url, err)
	}

	mimeType := c.sniffFile(path, filename)
	charset := c.charsetOf(path, mimeType)

	body, err := c.Spooler.SpoolFile(ctx, url, path, mimeType)
	if err != nil {
		return Downloaded{MimeType: mimeType}, err
	}
	return Downloaded{Body: body, MimeType: mimeType, Charset: charset}, nil
}

func (c *Content) sniffFile(path, filename string) string {
	// #nosec G304 -- path is a temp file created by the spooler.
	f, err := os.Open(path)
	if err != nil {
		return c.MimeFromName(filename)
	}
	defer func() { _ = f.Close() }()
	return c.Sniffer.Sniff(f, filename)
}

func (c *Content) charsetOf(path, mimeType string) string {
	if c.Charsets == nil || !mime.IsText(mimeType) {
		return c.Charset
	}
	// #nosec G304 -- path is a temp file created by the spooler.
	f, err := os.Open(path)
	if err != nil {
		return c.Charset
	}
	defer func() { _ = f.Close() }()
	return c.Charsets.Detect(f, c.Charset)
}

// IsLimit reports whether err is a content limit violation.
func IsLimit(err error) bool {
	var limitErr *crawler.LimitExceededError
	return errors.As(err, &limitErr)
}
