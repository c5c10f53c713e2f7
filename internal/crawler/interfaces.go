package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns a tagged Result.
//
// Soft outcomes (not found, bad target, directory) are returned as a Result,
// never as an error.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (*Result, error)
	Close() error
}

// Body is fetched content, held either in memory or in a spooled temp file.
type Body interface {
	// Open returns a fresh reader positioned at the start of the content.
	Open() (io.ReadCloser, error)
	Len() int64
	InMemory() bool
	// Path is the spooled file path, empty for in-memory bodies.
	Path() string
	// Close releases the body. Spooled files are removed.
	Close() error
}

// MimeSniffer detects a MIME type from content and/or a filename.
// r may be nil, in which case only the filename is consulted.
type MimeSniffer interface {
	Sniff(r io.Reader, filename string) string
}

// CharsetDetector guesses the text encoding of content.
type CharsetDetector interface {
	Detect(r io.Reader, fallback string) string
}

// ContentLimitPolicy maps a MIME type to the maximum allowed content length.
type ContentLimitPolicy interface {
	MaxLength(mimeType string) int64
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces fetch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
