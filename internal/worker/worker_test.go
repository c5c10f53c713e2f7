package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/hash/sha256"
	"github.com/JakeFAU/remote-fetch/internal/spool"
)

type fakeFetcher struct {
	mu       sync.Mutex
	attempts int
	errs     []error
	result   func() *crawler.Result
}

func (f *fakeFetcher) Fetch(_ context.Context, _ crawler.Request) (*crawler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= len(f.errs) {
		return nil, f.errs[f.attempts-1]
	}
	if f.result == nil {
		return nil, nil
	}
	return f.result(), nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeSink struct {
	mu    sync.Mutex
	names []string
	data  map[string]string
	err   error
}

func (s *fakeSink) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.names = append(s.names, name)
	s.data[name] = string(b)
	return "mem://" + name, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{ err error }

func (g fakeIDs) NewID() (string, error) { return "fetch-1", g.err }

type immediateRetry struct{ max int }

func (p immediateRetry) ShouldRetry(err error, attempt int) bool {
	return NewExponentialRetryPolicy(p.max, 0, 0).ShouldRetry(err, attempt)
}

func (immediateRetry) Backoff(int) time.Duration { return 0 }

func fileResult(t *testing.T, url, content string) func() *crawler.Result {
	t.Helper()
	return func() *crawler.Result {
		body, err := spool.New(spool.DefaultThreshold).Spool(context.Background(), url,
			strings.NewReader(content), int64(len(content)), "text/plain")
		require.NoError(t, err)
		return &crawler.Result{
			URL:           url,
			Method:        crawler.MethodGet,
			Kind:          crawler.KindFile,
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(content)),
			MimeType:      "text/plain",
			Charset:       "UTF-8",
			LastModified:  time.Unix(1700000000, 0),
			Body:          body,
		}
	}
}

func newWorker(f crawler.Fetcher, sink *fakeSink, retry RetryPolicy) *Worker {
	return New(f, sink, sha256.New(), fakeClock{now: time.Unix(100, 0).UTC()}, fakeIDs{}, retry,
		Config{BlobPrefix: "/bodies/"}, zap.NewNop())
}

func TestWorkerProcessPersistsBodyByDigest(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{result: fileResult(t, "sftp://host/dir/file1.txt", "file1")}
	sink := &fakeSink{}
	w := newWorker(f, sink, nil)

	s, err := w.Process(context.Background(), crawler.Request{URL: "sftp://host/dir/file1.txt", IncludeContent: true})
	require.NoError(t, err)
	require.NotNil(t, s)

	want, err := sha256.New().Hash(strings.NewReader("file1"))
	require.NoError(t, err)
	assert.Equal(t, want, s.SHA256)
	assert.Equal(t, "fetch-1", s.ID)
	assert.Equal(t, "file", s.Kind)
	assert.Equal(t, http.StatusOK, s.StatusCode)
	assert.Equal(t, int64(5), s.ContentLength)
	assert.Equal(t, 1, s.Attempts)
	require.NotNil(t, s.LastModified)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *s.LastModified)
	assert.Equal(t, time.Unix(100, 0).UTC(), s.FetchedAt)

	require.Len(t, sink.names, 1)
	assert.Equal(t, "bodies/"+s.SHA256+".txt", sink.names[0])
	assert.Equal(t, "file1", sink.data[sink.names[0]])
	assert.Equal(t, "mem://"+sink.names[0], s.Location)
	assert.Equal(t, int64(1), w.Processed())
}

func TestWorkerProcessDirectoryWithoutBody(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{result: func() *crawler.Result {
		return &crawler.Result{
			URL:        "smb://nas/share/",
			Kind:       crawler.KindDirectory,
			StatusCode: http.StatusOK,
			Children:   []string{"smb://nas/share/a.txt"},
		}
	}}
	sink := &fakeSink{}
	s, err := newWorker(f, sink, nil).Process(context.Background(), crawler.Request{URL: "smb://nas/share/", IncludeContent: true})
	require.NoError(t, err)
	assert.Equal(t, "directory", s.Kind)
	assert.Equal(t, []string{"smb://nas/share/a.txt"}, s.Children)
	assert.Empty(t, s.SHA256)
	assert.Empty(t, sink.names)
}

func TestWorkerProcessMetadataOnlyDirectory(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{result: func() *crawler.Result {
		return &crawler.Result{
			URL:        "sftp://host/dir/",
			Method:     crawler.MethodHead,
			Kind:       crawler.KindDirectory,
			StatusCode: http.StatusOK,
		}
	}}
	sink := &fakeSink{}
	w := newWorker(f, sink, nil)
	s, err := w.Process(context.Background(), crawler.Request{URL: "sftp://host/dir/"})
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, sink.names)
	assert.Equal(t, int64(1), w.Processed())
}

func TestWorkerRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	transport := &crawler.TransportError{Op: "connect", URL: "sftp://host/a", Err: errors.New("refused")}
	f := &fakeFetcher{
		errs:   []error{transport, transport},
		result: fileResult(t, "sftp://host/a", "ok"),
	}
	s, err := newWorker(f, &fakeSink{}, immediateRetry{max: 3}).Process(context.Background(), crawler.Request{URL: "sftp://host/a"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, 3, f.attempts)
}

func TestWorkerDoesNotRetryLimitOrCancellation(t *testing.T) {
	t.Parallel()

	tests := []error{
		&crawler.LimitExceededError{URL: "sftp://host/a", Length: 5, Max: 3},
		&crawler.CancellationError{URL: "sftp://host/a", Timeout: time.Second},
		&crawler.MalformedTargetError{URL: "x", Reason: "bad"},
	}
	for _, want := range tests {
		f := &fakeFetcher{errs: []error{want}}
		_, err := newWorker(f, &fakeSink{}, immediateRetry{max: 5}).Process(context.Background(), crawler.Request{URL: "sftp://host/a"})
		require.ErrorIs(t, err, want)
		assert.Equal(t, 1, f.attempts)
	}
}

func TestWorkerSinkFailure(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{result: fileResult(t, "sftp://host/a.txt", "data")}
	_, err := newWorker(f, &fakeSink{err: errors.New("disk full")}, nil).Process(context.Background(), crawler.Request{URL: "sftp://host/a.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWorkerIDFailure(t *testing.T) {
	t.Parallel()

	w := New(&fakeFetcher{}, nil, sha256.New(), fakeClock{}, fakeIDs{err: errors.New("entropy")}, nil, Config{}, nil)
	_, err := w.Process(context.Background(), crawler.Request{URL: "sftp://host/a"})
	assert.ErrorContains(t, err, "fetch id")
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := &Worker{}
	assert.Equal(t, "abc.pdf", w.buildBlobPath("smb://nas/share/doc.pdf", "abc"))
	assert.Equal(t, "abc", w.buildBlobPath("sftp://host/dir/README", "abc"))
	w.cfg.BlobPrefix = "out"
	assert.Equal(t, "out/abc.txt", w.buildBlobPath("sftp://host/a.txt", "abc"))
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 100*time.Millisecond, 300*time.Millisecond)
	transport := &crawler.TransportError{Op: "read", Err: errors.New("reset")}
	assert.True(t, p.ShouldRetry(transport, 1))
	assert.True(t, p.ShouldRetry(transport, 2))
	assert.False(t, p.ShouldRetry(transport, 3))
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.False(t, p.ShouldRetry(errors.New("plain"), 1))
	assert.False(t, p.ShouldRetry(&crawler.TransportError{Err: context.Canceled}, 1))

	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
