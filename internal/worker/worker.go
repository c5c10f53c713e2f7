// Package worker runs the per-request fetch pipeline: fetch, digest, persist
// and summarize.
package worker

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/logging"
	"github.com/JakeFAU/remote-fetch/internal/storage"
)

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix is prepended to every sink name.
	BlobPrefix string
}

// Summary is the serializable outcome of one fetch.
type Summary struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Method        string         `json:"method"`
	Kind          string         `json:"kind"`
	StatusCode    int            `json:"status"`
	ContentLength int64          `json:"size"`
	MimeType      string         `json:"mime_type,omitempty"`
	Charset       string         `json:"charset,omitempty"`
	LastModified  *time.Time     `json:"last_modified,omitempty"`
	Children      []string       `json:"children,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SHA256        string         `json:"sha256,omitempty"`
	Location      string         `json:"location,omitempty"`
	Attempts      int            `json:"attempts"`
	DurationMs    int64          `json:"duration_ms"`
	FetchedAt     time.Time      `json:"fetched_at"`
}

// Worker executes the fetch pipeline for one request at a time.
type Worker struct {
	fetcher crawler.Fetcher
	sink    storage.Sink
	hasher  crawler.Hasher
	clock   crawler.Clock
	ids     crawler.IDGenerator
	retry   RetryPolicy
	cfg     Config
	logger  *zap.Logger

	processed atomic.Int64
}

// New constructs a Worker. A nil sink discards bodies and a nil retry
// policy never retries.
func New(
	fetcher crawler.Fetcher,
	sink storage.Sink,
	hasher crawler.Hasher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	retry RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = storage.NoOpSink{}
	}
	if retry == nil {
		retry = NoRetry{}
	}
	return &Worker{
		fetcher: fetcher,
		sink:    sink,
		hasher:  hasher,
		clock:   clock,
		ids:     ids,
		retry:   retry,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

// Process fetches request.URL and returns its summary. A directory fetched
// metadata-only yields a nil summary and no error.
func (w *Worker) Process(ctx context.Context, request crawler.Request) (*Summary, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("fetch id: %w", err)
	}
	logger := logging.ForFetch(w.logger, id, request.URL)
	w.processed.Add(1)

	res, attempts, err := w.fetchWithRetry(ctx, logger, request)
	if err != nil {
		logger.Warn("fetch failed", zap.Int("attempts", attempts), zap.Error(err))
		return nil, err
	}
	if res == nil {
		logger.Debug("directory skipped for metadata-only fetch")
		return nil, nil
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			logger.Warn("release body", zap.Error(cerr))
		}
	}()
	if !request.IncludeContent && res.Kind == crawler.KindDirectory {
		logger.Debug("directory skipped for metadata-only fetch")
		return nil, nil
	}

	summary := w.summarize(id, res)
	summary.Attempts = attempts
	if res.HasBody() {
		if err := w.persist(ctx, res, summary); err != nil {
			logger.Error("persist body failed", zap.Error(err))
			return nil, err
		}
	}
	logger.Info("fetched",
		zap.String("kind", summary.Kind),
		zap.Int("status", summary.StatusCode),
		zap.Int64("size", summary.ContentLength),
		zap.String("sha256", summary.SHA256),
	)
	return summary, nil
}

// Processed returns how many requests this worker has handled.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Close logs the worker's lifetime totals. The fetcher is shared and is not closed.
func (w *Worker) Close() error {
	w.logger.Debug("worker retired", zap.Int64("processed", w.processed.Load()))
	return nil
}

func (w *Worker) fetchWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	request crawler.Request,
) (*crawler.Result, int, error) {
	for attempt := 1; ; attempt++ {
		res, err := w.fetcher.Fetch(ctx, request)
		if err == nil {
			return res, attempt, nil
		}
		if !w.retry.ShouldRetry(err, attempt) {
			return nil, attempt, err
		}
		delay := w.retry.Backoff(attempt)
		logger.Info("retrying fetch", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, fmt.Errorf("retry %s: %w", request.URL, ctx.Err())
		case <-timer.C:
		}
	}
}

func (w *Worker) summarize(id string, res *crawler.Result) *Summary {
	s := &Summary{
		ID:            id,
		URL:           res.URL,
		Method:        res.Method,
		Kind:          res.Kind.String(),
		StatusCode:    res.StatusCode,
		ContentLength: res.ContentLength,
		MimeType:      res.MimeType,
		Charset:       res.Charset,
		Children:      res.Children,
		Metadata:      res.Metadata,
		DurationMs:    res.Duration.Milliseconds(),
		FetchedAt:     w.clock.Now(),
	}
	if !res.LastModified.IsZero() {
		lm := res.LastModified.UTC()
		s.LastModified = &lm
	}
	return s
}

func (w *Worker) persist(ctx context.Context, res *crawler.Result, s *Summary) error {
	digest, err := w.digest(res.Body)
	if err != nil {
		return err
	}
	s.SHA256 = digest

	r, err := res.Body.Open()
	if err != nil {
		return fmt.Errorf("open body: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only
	location, err := w.sink.Put(ctx, w.buildBlobPath(res.URL, digest), res.MimeType, r)
	if err != nil {
		return fmt.Errorf("put body: %w", err)
	}
	s.Location = location
	return nil
}

func (w *Worker) digest(body crawler.Body) (string, error) {
	r, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open body: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only
	digest, err := w.hasher.Hash(r)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	return digest, nil
}

// buildBlobPath names a body by digest, keeping the source extension.
func (w *Worker) buildBlobPath(url, digest string) string {
	name := digest + path.Ext(strings.TrimRight(url, "/"))
	if ext := path.Ext(name); strings.ContainsAny(ext, "?#") {
		name = digest
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

var _ io.Closer = (*Worker)(nil)
