// Package spool materializes fetched content in memory or in temp files.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/metrics"
)

// DefaultThreshold is the in-memory ceiling when none is configured.
const DefaultThreshold int64 = 1024 * 1024

// Spooler keeps content shorter than Threshold in memory and streams the
// rest to temp files.
type Spooler struct {
	threshold int64
	tempDir   string
	limits    crawler.ContentLimitPolicy
	logger    *zap.Logger
}

// Option configures a Spooler.
type Option func(*Spooler)

// WithTempDir sets the directory for spooled files. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Spooler) { s.tempDir = dir }
}

// WithLimits enforces maximum lengths per MIME type.
func WithLimits(p crawler.ContentLimitPolicy) Option {
	return func(s *Spooler) { s.limits = p }
}

// WithLogger sets the logger for background cleanup failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spooler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Spooler. A threshold of zero or less uses DefaultThreshold.
func New(threshold int64, opts ...Option) *Spooler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	s := &Spooler{threshold: threshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("spool")
	return s
}

// Threshold returns the in-memory ceiling in bytes.
func (s *Spooler) Threshold() int64 { return s.threshold }

// Check returns a *crawler.LimitExceededError if length is over the limit
// for mimeType. An empty mimeType checks the default limit.
func (s *Spooler) Check(url, mimeType string, length int64) error {
	if s.limits == nil {
		return nil
	}
	limit := s.limits.MaxLength(mimeType)
	if limit > 0 && length > limit {
		return &crawler.LimitExceededError{URL: url, MimeType: mimeType, Length: length, Max: limit}
	}
	return nil
}

// Spool reads length bytes from r. The limit for mimeType is checked first.
// Content shorter than the threshold is kept in memory, anything else is
// written to a temp file owned by the returned body. A negative length
// means unknown; the content is then streamed to disk and measured.
func (s *Spooler) Spool(ctx context.Context, url string, r io.Reader, length int64, mimeType string) (crawler.Body, error) {
	if length >= 0 {
		if err := s.Check(url, mimeType, length); err != nil {
			return nil, err
		}
	}
	if length >= 0 && length < s.threshold {
		data, err := io.ReadAll(io.LimitReader(&contextReader{ctx: ctx, r: r}, length))
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		metrics.ObserveSpool(true)
		return &memoryBody{data: data}, nil
	}

	f, err := s.NewTempFile("spool")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_, copyErr := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err := errors.Join(copyErr, f.Close()); err != nil {
		s.Remove(path)
		return nil, fmt.Errorf("spool content: %w", err)
	}
	return s.SpoolFile(ctx, url, path, mimeType)
}

// SpoolFile takes ownership of the temp file at path. The limit for mimeType
// is enforced, then the content is either loaded into memory and the file
// removed, or the file itself becomes the body. On error the file is removed.
func (s *Spooler) SpoolFile(ctx context.Context, url, path, mimeType string) (crawler.Body, error) {
	info, err := os.Stat(path)
	if err != nil {
		s.Remove(path)
		return nil, fmt.Errorf("stat spooled file: %w", err)
	}
	size := info.Size()
	if err := s.Check(url, mimeType, size); err != nil {
		s.Remove(path)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.Remove(path)
		return nil, err
	}
	if size < s.threshold {
		// #nosec G304 -- path is a temp file this package created.
		data, err := os.ReadFile(path)
		s.Remove(path)
		if err != nil {
			return nil, fmt.Errorf("read spooled file: %w", err)
		}
		metrics.ObserveSpool(true)
		return &memoryBody{data: data}, nil
	}
	metrics.ObserveSpool(false)
	return &fileBody{path: path, size: size, logger: s.logger}, nil
}

// NewTempFile creates an empty temp file named crawler-<prefix>-*.out.
func (s *Spooler) NewTempFile(prefix string) (*os.File, error) {
	f, err := os.CreateTemp(s.tempDir, "crawler-"+prefix+"-*.out")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// Remove deletes path in the background.
func (s *Spooler) Remove(path string) {
	RemoveInBackground(path, s.logger)
}

// RemoveInBackground deletes path without blocking the caller. Failures are
// logged and otherwise ignored.
func RemoveInBackground(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	go func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if logger != nil {
				logger.Warn("failed to delete temp file", zap.String("path", path), zap.Error(err))
			}
		}
	}()
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
