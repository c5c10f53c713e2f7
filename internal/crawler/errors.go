package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidArgument reports construction-time misuse.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrComponentNotFound reports a registry lookup for an unknown name.
	ErrComponentNotFound = errors.New("component not found")
	// ErrPoolClosed is returned by pools after shutdown.
	ErrPoolClosed = errors.New("pool closed")
)

// MalformedTargetError means the URL does not parse or has the wrong scheme.
type MalformedTargetError struct {
	URL    string
	Reason string
	Err    error
}

func (e *MalformedTargetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed target %q: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed target %q: %s", e.URL, e.Reason)
}

func (e *MalformedTargetError) Unwrap() error { return e.Err }

// TransportError wraps connect/authenticate/list/read failures.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LimitExceededError reports content larger than the allowed maximum.
type LimitExceededError struct {
	URL      string
	MimeType string
	Length   int64
	Max      int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("the content length (%d byte) is over %d byte. The url is %s", e.Length, e.Max, e.URL)
}

// CancellationError means the access deadline fired while the fetch was running.
// It unwraps to both context.DeadlineExceeded and the interrupted I/O error.
type CancellationError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("fetch %s canceled after %s: %v", e.URL, e.Timeout, e.Err)
}

func (e *CancellationError) Unwrap() []error {
	if e.Err == nil {
		return []error{context.DeadlineExceeded}
	}
	return []error{context.DeadlineExceeded, e.Err}
}

// IsTransient reports whether a scheduler may reasonably retry after err.
func IsTransient(err error) bool {
	var cancelErr *CancellationError
	var transportErr *TransportError
	return errors.As(err, &cancelErr) || errors.As(err, &transportErr)
}
