// Package app wires the long-lived services of the fetch layer into a
// component registry and hands out pooled fetch workers.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/clock/system"
	"github.com/JakeFAU/remote-fetch/internal/config"
	"github.com/JakeFAU/remote-fetch/internal/crawler"
	sftpfetcher "github.com/JakeFAU/remote-fetch/internal/fetcher/sftp"
	smbfetcher "github.com/JakeFAU/remote-fetch/internal/fetcher/smb"
	"github.com/JakeFAU/remote-fetch/internal/hash/sha256"
	"github.com/JakeFAU/remote-fetch/internal/id/uuid"
	"github.com/JakeFAU/remote-fetch/internal/limits"
	"github.com/JakeFAU/remote-fetch/internal/mime"
	"github.com/JakeFAU/remote-fetch/internal/policy/ratelimit"
	"github.com/JakeFAU/remote-fetch/internal/pool"
	"github.com/JakeFAU/remote-fetch/internal/storage"
	"github.com/JakeFAU/remote-fetch/internal/storage/local"
	"github.com/JakeFAU/remote-fetch/internal/worker"
)

// Registry component names.
const (
	ComponentCredentials = "auth.credentials"
	ComponentLimits      = "limits.policy"
	ComponentSniffer     = "mime.sniffer"
	ComponentCharsets    = "mime.charsets"
	ComponentDialLimiter = "policy.dial_limiter"
	ComponentSFTP        = "fetcher.sftp"
	ComponentSMB         = "fetcher.smb"
	ComponentRouter      = "fetcher.router"
	ComponentSink        = "storage.sink"
	ComponentWorker      = "worker"
)

// App holds the registry and the worker pool built from it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *pool.MapRegistry
	router   *crawler.Router
	workers  *pool.ObjectPool[*worker.Worker]

	sftpOpts []sftpfetcher.Option
	smbOpts  []smbfetcher.Option
	sink     storage.Sink
}

// Option customizes App construction.
type Option func(*App)

// WithSFTPOptions appends options passed to the SFTP fetcher.
func WithSFTPOptions(opts ...sftpfetcher.Option) Option {
	return func(a *App) { a.sftpOpts = append(a.sftpOpts, opts...) }
}

// WithSMBOptions appends options passed to the SMB fetcher.
func WithSMBOptions(opts ...smbfetcher.Option) Option {
	return func(a *App) { a.smbOpts = append(a.smbOpts, opts...) }
}

// WithSink replaces the body sink chosen from configuration.
func WithSink(s storage.Sink) Option {
	return func(a *App) { a.sink = s }
}

// New registers every component and builds the fetcher router eagerly so
// configuration errors surface at startup.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: pool.NewMapRegistry()}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.register(); err != nil {
		return nil, err
	}

	router, err := lookup[*crawler.Router](a.registry, ComponentRouter)
	if err != nil {
		return nil, multierr.Append(err, a.registry.Close())
	}
	a.router = router

	factory, err := pool.NewFactory[*worker.Worker](a.registry, ComponentWorker,
		pool.WithFactoryLogger[*worker.Worker](logger),
		pool.WithDestroyListener[*worker.Worker](func(p *pool.PooledObject[*worker.Worker]) error {
			logger.Debug("retiring fetch worker", zap.Int64("processed", p.Object().Processed()))
			return nil
		}),
	)
	if err != nil {
		return nil, multierr.Append(err, a.registry.Close())
	}
	// #nosec G115 -- bounded by config validation.
	a.workers, err = pool.NewObjectPool(factory, int32(cfg.Server.MaxConcurrentFetches), logger)
	if err != nil {
		return nil, multierr.Append(err, a.registry.Close())
	}

	logger.Info("application services initialized",
		zap.Strings("schemes", router.Schemes()),
		zap.Strings("components", a.registry.Names()),
	)
	return a, nil
}

func (a *App) register() error {
	cfg := a.cfg
	logger := a.logger

	regs := []struct {
		name  string
		scope pool.Scope
		ctor  pool.Constructor
	}{
		{ComponentCredentials, pool.ScopeSingleton, func() (any, error) {
			return auth.FromConfig(cfg.Credentials)
		}},
		{ComponentLimits, pool.ScopeSingleton, func() (any, error) {
			return limits.New(cfg.Limits.DefaultMaxBytes, cfg.Limits.MIME), nil
		}},
		{ComponentSniffer, pool.ScopeSingleton, func() (any, error) {
			return mime.NewSniffer(), nil
		}},
		{ComponentCharsets, pool.ScopeSingleton, func() (any, error) {
			return mime.NewCharsetDetector(), nil
		}},
		{ComponentDialLimiter, pool.ScopeSingleton, func() (any, error) {
			return ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Dial.RPS, DefaultBurst: cfg.Dial.Burst}), nil
		}},
		{ComponentSFTP, pool.ScopeSingleton, a.newSFTP},
		{ComponentSMB, pool.ScopeSingleton, a.newSMB},
		{ComponentRouter, pool.ScopeSingleton, a.newRouter},
		{ComponentSink, pool.ScopeSingleton, a.newSink},
		{ComponentWorker, pool.ScopePrototype, a.newWorker},
	}
	for _, r := range regs {
		var err error
		if r.scope == pool.ScopeSingleton {
			err = a.registry.Singleton(r.name, r.ctor)
		} else {
			err = a.registry.Prototype(r.name, r.ctor)
		}
		if err != nil {
			return err
		}
	}
	logger.Debug("components registered", zap.Int("count", len(regs)))
	return nil
}

type shared struct {
	credentials *auth.Registry
	limits      *limits.Policy
	sniffer     *mime.Sniffer
	charsets    *mime.CharsetDetector
	limiter     *ratelimit.Limiter
}

func (a *App) shared() (shared, error) {
	var s shared
	var err error
	if s.credentials, err = lookup[*auth.Registry](a.registry, ComponentCredentials); err != nil {
		return s, err
	}
	if s.limits, err = lookup[*limits.Policy](a.registry, ComponentLimits); err != nil {
		return s, err
	}
	if s.sniffer, err = lookup[*mime.Sniffer](a.registry, ComponentSniffer); err != nil {
		return s, err
	}
	if s.charsets, err = lookup[*mime.CharsetDetector](a.registry, ComponentCharsets); err != nil {
		return s, err
	}
	if s.limiter, err = lookup[*ratelimit.Limiter](a.registry, ComponentDialLimiter); err != nil {
		return s, err
	}
	return s, nil
}

func (a *App) newSFTP() (any, error) {
	s, err := a.shared()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	opts := append([]sftpfetcher.Option{
		sftpfetcher.WithLogger(a.logger),
		sftpfetcher.WithDialLimiter(s.limiter),
		sftpfetcher.WithLimits(s.limits),
		sftpfetcher.WithSniffer(s.sniffer),
		sftpfetcher.WithCharsetDetector(s.charsets),
	}, a.sftpOpts...)
	f := sftpfetcher.New(sftpfetcher.Config{
		ConnectTimeout:        cfg.ConnectTimeout(),
		AccessTimeout:         cfg.AccessTimeout(),
		Charset:               cfg.Fetch.Charset,
		DetectCharset:         cfg.Fetch.DetectCharset,
		StrictHostKeyChecking: cfg.StrictHostKeys(),
		KnownHostsFile:        cfg.Fetch.KnownHostsFile,
		MaxCachedContentSize:  cfg.Fetch.MaxCachedContentSize,
		MaxIdlePerKey:         cfg.Fetch.MaxIdlePerKey,
		TempDir:               cfg.Fetch.TempDir,
	}, s.credentials, opts...)
	if err := f.Init(); err != nil {
		return nil, err
	}
	return f, nil
}

func (a *App) newSMB() (any, error) {
	s, err := a.shared()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	opts := append([]smbfetcher.Option{
		smbfetcher.WithLogger(a.logger),
		smbfetcher.WithDialLimiter(s.limiter),
		smbfetcher.WithLimits(s.limits),
		smbfetcher.WithSniffer(s.sniffer),
		smbfetcher.WithCharsetDetector(s.charsets),
	}, a.smbOpts...)
	f := smbfetcher.New(smbfetcher.Config{
		ConnectTimeout:       cfg.ConnectTimeout(),
		AccessTimeout:        cfg.AccessTimeout(),
		Charset:              cfg.Fetch.Charset,
		DetectCharset:        cfg.Fetch.DetectCharset,
		MaxCachedContentSize: cfg.Fetch.MaxCachedContentSize,
		MaxIdlePerKey:        cfg.Fetch.MaxIdlePerKey,
		TempDir:              cfg.Fetch.TempDir,
		ResolveSIDs:          cfg.Fetch.ResolveSIDs,
	}, s.credentials, opts...)
	if err := f.Init(); err != nil {
		return nil, err
	}
	return f, nil
}

func (a *App) newRouter() (any, error) {
	sftp, err := lookup[*sftpfetcher.Fetcher](a.registry, ComponentSFTP)
	if err != nil {
		return nil, err
	}
	smb, err := lookup[*smbfetcher.Fetcher](a.registry, ComponentSMB)
	if err != nil {
		return nil, err
	}
	r := crawler.NewRouter()
	r.Register(sftpfetcher.Scheme, sftp)
	r.Register(smbfetcher.Scheme, smb)
	return r, nil
}

func (a *App) newSink() (any, error) {
	if a.sink != nil {
		return a.sink, nil
	}
	if a.cfg.Output.Dir == "" {
		return storage.NoOpSink{}, nil
	}
	store, err := local.New(local.Config{BaseDir: a.cfg.Output.Dir})
	if err != nil {
		return nil, fmt.Errorf("output sink: %w", err)
	}
	return store, nil
}

func (a *App) newWorker() (any, error) {
	router, err := lookup[*crawler.Router](a.registry, ComponentRouter)
	if err != nil {
		return nil, err
	}
	sink, err := lookup[storage.Sink](a.registry, ComponentSink)
	if err != nil {
		return nil, err
	}
	retry := worker.NewExponentialRetryPolicy(
		a.cfg.Retry.MaxAttempts,
		time.Duration(a.cfg.Retry.BaseDelayMs)*time.Millisecond,
		time.Duration(a.cfg.Retry.MaxDelayMs)*time.Millisecond,
	)
	return worker.New(router, sink, sha256.New(), system.New(), uuid.New(), retry, worker.Config{}, a.logger), nil
}

func lookup[T any](reg pool.Registry, name string) (T, error) {
	var zero T
	c, err := reg.Lookup(name)
	if err != nil {
		return zero, err
	}
	v, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("component %q is %T: %w", name, c, crawler.ErrInvalidArgument)
	}
	return v, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the component registry.
func (a *App) Registry() pool.Registry {
	return a.registry
}

// Router returns the scheme router over every fetcher.
func (a *App) Router() *crawler.Router {
	return a.router
}

// Workers reports worker pool occupancy.
func (a *App) Workers() pool.Stats {
	return a.workers.Stat()
}

// Process runs request on a pooled worker, waiting for one to be free.
func (a *App) Process(ctx context.Context, request crawler.Request) (*worker.Summary, error) {
	res, err := a.workers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer res.Release()
	return res.Object().Process(ctx, request)
}

// Close retires the workers, then closes every built component.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	a.workers.Close()
	err := a.registry.Close()
	if serr := a.logger.Sync(); serr != nil {
		a.logger.Debug("sync logger on shutdown", zap.Error(serr))
	}
	return err
}
