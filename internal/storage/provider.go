// Package storage defines where fetched bodies are written.
package storage

import (
	"context"
	"io"
)

// Sink persists a fetched body under a name and returns its location.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data io.Reader) (string, error)
}

// NoOpSink discards bodies. It is used when no output directory is set.
type NoOpSink struct{}

// Put drains nothing and returns an empty location.
func (NoOpSink) Put(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}
