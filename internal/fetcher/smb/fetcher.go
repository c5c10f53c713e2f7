// Package smbfetcher implements crawler.Fetcher over SMB2/3.
package smbfetcher

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
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
	Scheme = "smb"
	// DefaultPort applies when the URL has none.
	DefaultPort = 445

	// MetaCreateTime is the metadata key for the file creation time.
	MetaCreateTime = "smbCreateTime"
	// MetaOwnerAttributes is the metadata key for [account, domain] of the owner.
	MetaOwnerAttributes = "smbOwnerAttributes"
	// MetaAccessControlEntries is the metadata key for the file's ACEs.
	MetaAccessControlEntries = "smbAccessControlEntries"
)

// Config controls connection and content handling.
type Config struct {
	ConnectTimeout time.Duration
	// AccessTimeout bounds a whole fetch. Zero means unbounded.
	AccessTimeout        time.Duration
	Charset              string
	DetectCharset        bool
	MaxCachedContentSize int64
	MaxIdlePerKey        int
	TempDir              string
	// ResolveSIDs turns ACE and owner SIDs into account names.
	ResolveSIDs bool
}

// Fetcher fetches smb:// URLs of the form smb://host[:port]/share/path.
type Fetcher struct {
	cfg      Config
	registry *auth.Registry
	logger   *zap.Logger
	dial     connpool.Dialer[Session]
	limiter  connpool.DialLimiter
	limits   crawler.ContentLimitPolicy
	sniffer  crawler.MimeSniffer
	charsets crawler.CharsetDetector
	accounts AccountResolver

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

// WithDialer replaces the go-smb2 dialer.
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

// WithAccountResolver enables SID resolution through a directory service.
func WithAccountResolver(r AccountResolver) Option {
	return func(f *Fetcher) { f.accounts = r }
}

// New returns a Fetcher. Connections are not opened until the first fetch.
func New(cfg Config, registry *auth.Registry, opts ...Option) *Fetcher {
	f := &Fetcher{cfg: cfg, registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("smb")
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
		f.dial = NewSMB2Dialer(f.cfg.ConnectTimeout)
	}
	if f.registry == nil {
		f.registry = auth.NewRegistry()
	}
	if f.sniffer == nil {
		f.sniffer = mime.NewSniffer()
	}
	var charsets crawler.CharsetDetector
	if f.cfg.DetectCharset {
		if f.charsets == nil {
			f.charsets = mime.NewCharsetDetector()
		}
		charsets = f.charsets
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
	f.content = &fetcher.Content{Spooler: f.spooler, Sniffer: f.sniffer, Charsets: charsets, Charset: charset}
	f.initialized = true
	if f.cfg.ResolveSIDs && f.accounts == nil {
		f.logger.Warn("resolve_sids is enabled but no account resolver is configured; owner attributes will not be resolved")
	}
	f.logger.Debug("initialized",
		zap.Duration("connect_timeout", f.cfg.ConnectTimeout),
		zap.Duration("access_timeout", f.cfg.AccessTimeout),
		zap.Bool("resolve_sids", f.cfg.ResolveSIDs),
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

	segments := target.Segments()
	if len(segments) == 0 {
		return f.shares(ctx, lease, target, includeContent)
	}

	share, err := lease.Handle().Mount(ctx, segments[0])
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fetcher.NotFound(url), nil
	case err != nil:
		return nil, &crawler.TransportError{Op: "mount", URL: url, Err: err}
	}
	defer func() {
		if err := share.Umount(); err != nil {
			f.logger.Debug("umount failed", zap.String("url", url), zap.Error(err))
		}
	}()

	name := strings.Join(segments[1:], "/")
	if name == "" {
		return f.directory(lease, share, target, name, includeContent)
	}

	info, err := share.Stat(name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fetcher.NotFound(url), nil
	case err != nil:
		lease.Discard()
		return nil, &crawler.TransportError{Op: "stat", URL: url, Err: err}
	case info.IsDir():
		return f.directory(lease, share, target, name, includeContent)
	case info.Mode().IsRegular():
		return f.file(ctx, lease, share, target, name, info, includeContent)
	default:
		return fetcher.BadTarget(url), nil
	}
}

// shares lists the shares of a server. Administrative shares ending in "$"
// are skipped.
func (f *Fetcher) shares(ctx context.Context, lease *connpool.Lease[Session], target crawler.Target, includeContent bool) (*crawler.Result, error) {
	url := target.URL()
	if !includeContent {
		return fetcher.Directory(url, nil), nil
	}
	names, err := lease.Handle().ListShares(ctx)
	if err != nil {
		lease.Discard()
		return nil, &crawler.TransportError{Op: "list", URL: url, Err: err}
	}
	visible := names[:0]
	for _, n := range names {
		if !strings.HasSuffix(n, "$") {
			visible = append(visible, n)
		}
	}
	return fetcher.Directory(url, fetcher.ChildURLs(target, visible)), nil
}

func (f *Fetcher) directory(
	lease *connpool.Lease[Session],
	share Share,
	target crawler.Target,
	name string,
	includeContent bool,
) (*crawler.Result, error) {
	url := target.URL()
	if !includeContent {
		return fetcher.Directory(url, nil), nil
	}
	entries, err := share.ReadDir(name)
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
	share Share,
	target crawler.Target,
	name string,
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
	if created, ok := creationTime(info); ok {
		res.AddMetadata(MetaCreateTime, created)
	}
	if err := f.spooler.Check(url, "", info.Size()); err != nil {
		return nil, err
	}
	if err := f.addSecurity(ctx, share, name, res); err != nil {
		lease.Discard()
		return nil, err
	}
	if !includeContent {
		res.MimeType = f.content.MimeFromName(target.Filename())
		return res, nil
	}

	rc, err := share.Open(name)
	if errors.Is(err, os.ErrPermission) {
		res.StatusCode = http.StatusForbidden
		res.MimeType = mime.DefaultType
		return res, nil
	}
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

// addSecurity records the ACL, and with SID resolution the owner, when the
// share can read security descriptors. A failure aborts the fetch.
func (f *Fetcher) addSecurity(ctx context.Context, share Share, name string, res *crawler.Result) error {
	reader, ok := share.(SecurityDescriptorReader)
	if !ok {
		return nil
	}
	sd, err := reader.SecurityDescriptor(name)
	if err != nil {
		return &crawler.TransportError{Op: "read acl", URL: res.URL, Err: err}
	}
	aces := sd.ACEs
	if f.cfg.ResolveSIDs && f.accounts != nil {
		ownerAccount, resolved, err := resolve(ctx, f.accounts, sd)
		if err != nil {
			return &crawler.TransportError{Op: "resolve sids", URL: res.URL, Err: err}
		}
		aces = resolved
		if ownerAccount.Name != "" {
			res.AddMetadata(MetaOwnerAttributes, []string{ownerAccount.Name, ownerAccount.Domain})
		}
	}
	res.AddMetadata(MetaAccessControlEntries, aces)
	return nil
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
