// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Kind tags which branch a fetch ended in.
type Kind int

// Result kinds. A Result always carries exactly one of these.
const (
	KindFile Kind = iota + 1
	KindDirectory
	KindNotFound
	KindBadTarget
)

// String returns a lowercase label, used for logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindNotFound:
		return "not_found"
	case KindBadTarget:
		return "bad_target"
	default:
		return "unknown"
	}
}

// Request methods recorded on a Result.
const (
	MethodGet  = "GET"
	MethodHead = "HEAD"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL string
	// IncludeContent selects GET semantics; false is metadata-only (HEAD).
	IncludeContent bool
}

// Result is the outcome of a single fetch.
type Result struct {
	URL           string
	Method        string
	Kind          Kind
	StatusCode    int
	MimeType      string
	ContentLength int64
	LastModified  time.Time
	Charset       string
	Metadata      map[string]any
	// Children holds child URLs for KindDirectory, sorted and unique.
	Children []string
	// Body is set only for KindFile fetched with content.
	Body     Body
	Duration time.Duration
}

// AddMetadata records a protocol-specific attribute.
func (r *Result) AddMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// HasBody reports whether content was materialized.
func (r *Result) HasBody() bool {
	return r != nil && r.Body != nil
}

// Close releases the body, deleting any spooled temp file.
func (r *Result) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
