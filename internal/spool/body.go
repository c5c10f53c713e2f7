package spool

import (
	"bytes"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// memoryBody holds content below the spooling threshold.
type memoryBody struct {
	data []byte
}

func (b *memoryBody) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *memoryBody) Len() int64     { return int64(len(b.data)) }
func (b *memoryBody) InMemory() bool { return true }
func (b *memoryBody) Path() string   { return "" }
func (b *memoryBody) Close() error   { return nil }

// fileBody is content spooled to a temp file, removed on Close.
type fileBody struct {
	path   string
	size   int64
	logger *zap.Logger
	once   sync.Once
}

func (b *fileBody) Open() (io.ReadCloser, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (b *fileBody) Len() int64     { return b.size }
func (b *fileBody) InMemory() bool { return false }
func (b *fileBody) Path() string   { return b.path }

func (b *fileBody) Close() error {
	b.once.Do(func() {
		RemoveInBackground(b.path, b.logger)
	})
	return nil
}
