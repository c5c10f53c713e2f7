// Package sftpfetcher implements crawler.Fetcher over SFTP.
package sftpfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/connpool"
	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/deadline"
	"github.com/JakeFAU/remote-fetch/internal/fetcher"
	"github.com/JakeFAU/remote-fetch/internal/mime"
	"github.com/JakeFAU/remote-fetch/internal/spool"
)

const (
	// Scheme is the URL scheme served by this fetcher.
	Scheme = "sftp"
	// DefaultPort applies when the URL has none.
	DefaultPort = 22

	// MetaOwner is the metadata key for the numeric owner id.
	MetaOwner = "sftpFileOwner"
	// MetaGroup is the metadata key for the numeric group id.
	MetaGroup = "sftpFileGroup"
	// MetaPermissions is the metadata key for the ls-style mode string.
	MetaPermissions = "sftpFilePermissions"
)

// Config controls connection and content handling.
type Config struct {
	ConnectTimeout time.Duration
	// AccessTimeout bounds a whole fetch. Zero means unbounded.
	AccessTimeout         time.Duration
	Charset               string
	DetectCharset         bool
	StrictHostKeyChecking bool
	KnownHostsFile        string
	MaxCachedContentSize  int64
	MaxIdlePerKey         int
	TempDir               string
}

// Fetcher fetches sftp:// URLs through a keyed session pool.
type Fetcher struct {
	cfg      Config
	registry *auth.Registry
	logger   *zap.Logger
	dial     connpool.Dialer[Session]
	limiter  connpool.DialLimiter
	limits   crawler.ContentLimitPolicy
	sniffer  crawler.MimeSniffer
	charsets crawler.CharsetDetector

	mu          sync.Mutex
	initialized bool
	pool        *connpool.Pool[Session]
	content     *fetcher.Content
	spooler     *spool.Spooler
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithDialer replaces the SSH dialer.
func WithDialer(d connpool.Dialer[Session]) Option {
	return func(f *Fetcher) { f.dial = d }
}

// WithDialLimiter paces new connections per host.
func WithDialLimiter(l connpool.DialLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLimits sets the content length policy.
func WithLimits(p crawler.ContentLimitPolicy) Option {
	return func(f *Fetcher) { f.limits = p }
}

// WithSniffer replaces the MIME sniffer.
func WithSniffer(s crawler.MimeSniffer) Option {
	return func(f *Fetcher) { f.sniffer = s }
}

// WithCharsetDetector replaces the charset detector used when DetectCharset is set.
func WithCharsetDetector(d crawler.CharsetDetector) Option {
	return func(f *Fetcher) { f.charsets = d }
}

// New returns a Fetcher. Connections are not opened until the first fetch.
func New(cfg Config, registry *auth.Registry, opts ...Option) *Fetcher {
	f := &Fetcher{cfg: cfg, registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("sftp")
	return f
}

// Init prepares the pool and spooler. It runs once; later calls are no-ops.
func (f *Fetcher) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return nil
	}

	if f.dial == nil {
		hostKeys, err := HostKeyCallback(f.cfg.StrictHostKeyChecking, f.cfg.KnownHostsFile)
		if err != nil {
			return fmt.Errorf("init sftp fetcher: %w", err)
		}
		f.dial = NewSSHDialer(f.cfg.ConnectTimeout, hostKeys)
	}
	if f.registry == nil {
		f.registry = auth.NewRegistry()
	}
	if f.sniffer == nil {
		f.sniffer = mime.NewSniffer()
	}
	if f.charsets == nil && f.cfg.DetectCharset {
		f.charsets = mime.NewCharsetDetector()
	}
	charset := f.cfg.Charset
	if charset == "" {
		charset = "UTF-8"
	}

	f.pool = connpool.New(f.registry, f.dial, connpool.Options{
		Protocol:      Scheme,
		MaxIdlePerKey: f.cfg.MaxIdlePerKey,
		Limiter:       f.limiter,
		Logger:        f.logger,
	})
	f.spooler = spool.New(f.cfg.MaxCachedContentSize,
		spool.WithTempDir(f.cfg.TempDir),
		spool.WithLimits(f.limits),
		spool.WithLogger(f.logger),
	)
	var charsets crawler.CharsetDetector
	if f.cfg.DetectCharset {
		charsets = f.charsets
	}
	f.content = &fetcher.Content{Spooler: f.spooler, Sniffer: f.sniffer, Charsets: charsets, Charset: charset}
	f.initialized = true
	f.logger.Debug("initialized",
		zap.Duration("connect_timeout", f.cfg.ConnectTimeout),
		zap.Duration("access_timeout", f.cfg.AccessTimeout),
		zap.Int("credentials", f.registry.Len()),
	)
	return nil
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.Request) (*crawler.Result, error) {
	start := time.Now()
	if err := f.Init(); err != nil {
		return nil, err
	}
	target, err := crawler.ParseTarget(request.URL, Scheme, DefaultPort)
	if err != nil {
		fetcher.Observe(Scheme, request.URL, request.IncludeContent, nil, err, time.Since(start))
		return nil, err
	}
	url := target.URL()

	res, err := deadline.Run(ctx, url, f.cfg.AccessTimeout, func(ctx context.Context) (*crawler.Result, error) {
		return f.fetch(ctx, target, request.IncludeContent)
	})
	fetcher.Observe(Scheme, url, request.IncludeContent, res, err, time.Since(start))
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return res, nil
}

// FetchWithContent fetches url including the file body or directory listing.
func (f *Fetcher) FetchWithContent(ctx context.Context, url string) (*crawler.Result, error) {
	return f.Fetch(ctx, crawler.Request{URL: url, IncludeContent: true})
}

// FetchMetadataOnly fetches url without content. A directory yields a nil
// result and a nil error.
func (f *Fetcher) FetchMetadataOnly(ctx context.Context, url string) (*crawler.Result, error) {
	res, err := f.Fetch(ctx, crawler.Request{URL: url})
	if err != nil {
		return nil, err
	}
	if res.Kind == crawler.KindDirectory {
		return nil, nil
	}
	return res, nil
}

// Close disconnects every pooled session.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	pool := f.pool
	f.mu.Unlock()
	if pool != nil {
		pool.CloseAll()
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, target crawler.Target, includeContent bool) (*crawler.Result, error) {
	url := target.URL()
	lease, err := f.pool.Lease(ctx, target)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	sess := lease.Handle()

	if target.IsRoot() {
		return f.directory(lease, target, includeContent)
	}

	info, err := sess.Stat(target.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fetcher.NotFound(url), nil
	case err != nil:
		lease.Discard()
		return nil, &crawler.TransportError{Op: "stat", URL: url, Err: err}
	case info.IsDir():
		return f.directory(lease, target, includeContent)
	case info.Mode().IsRegular():
		return f.file(ctx, lease, target, info, includeContent)
	default:
		return fetcher.BadTarget(url), nil
	}
}

func (f *Fetcher) directory(lease *connpool.Lease[Session], target crawler.Target, includeContent bool) (*crawler.Result, error) {
	url := target.URL()
	if !includeContent {
		return fetcher.Directory(url, nil), nil
	}
	entries, err := lease.Handle().ReadDir(target.Path)
	if err != nil {
		lease.Discard()
		return nil, &crawler.TransportError{Op: "list", URL: url, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return fetcher.Directory(url, fetcher.ChildURLs(target, names)), nil
}

func (f *Fetcher) file(
	ctx context.Context,
	lease *connpool.Lease[Session],
	target crawler.Target,
	info os.FileInfo,
	includeContent bool,
) (*crawler.Result, error) {
	url := target.URL()
	res := &crawler.Result{
		URL:           url,
		Kind:          crawler.KindFile,
		StatusCode:    http.StatusOK,
		ContentLength: info.Size(),
		LastModified:  info.ModTime(),
		Charset:       f.content.Charset,
	}
	addFileMetadata(res, info)

	if err := f.spooler.Check(url, "", info.Size()); err != nil {
		return nil, err
	}
	if !includeContent {
		res.MimeType = f.content.MimeFromName(target.Filename())
		return res, nil
	}

	rc, err := lease.Handle().Open(target.Path)
	if err != nil {
		return f.contentFailed(ctx, lease, res, target, err)
	}
	downloaded, err := f.content.Download(ctx, url, target.Filename(), Scheme, rc)
	_ = rc.Close()
	if err != nil {
		return f.contentFailed(ctx, lease, res, target, err)
	}
	res.MimeType = downloaded.MimeType
	res.Charset = downloaded.Charset
	res.Body = downloaded.Body
	res.ContentLength = downloaded.Body.Len()
	return res, nil
}

// contentFailed keeps the metadata already gathered and reports a server
// error, unless the failure is a limit violation or the fetch was canceled.
func (f *Fetcher) contentFailed(
	ctx context.Context,
	lease *connpool.Lease[Session],
	res *crawler.Result,
	target crawler.Target,
	err error,
) (*crawler.Result, error) {
	if fetcher.IsLimit(err) {
		return nil, err
	}
	lease.Discard()
	if ctx.Err() != nil {
		return nil, &crawler.TransportError{Op: "read", URL: res.URL, Err: err}
	}
	f.logger.Warn("content retrieval failed", zap.String("url", res.URL), zap.Error(err))
	res.StatusCode = http.StatusInternalServerError
	res.MimeType = f.content.MimeFromName(target.Filename())
	return res, nil
}
