// Package connpool keeps authenticated protocol sessions alive between fetches.
//
// Idle sessions are queued per Key, so a session opened toward one host or
// identity is never handed to a fetch for another.
package connpool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/metrics"
)

// DefaultMaxIdlePerKey bounds each idle queue when Options leaves it unset.
const DefaultMaxIdlePerKey = 8

// Handle is a protocol session the pool can manage.
type Handle interface {
	IsConnected() bool
	Close() error
}

// Key identifies sessions that are interchangeable.
type Key struct {
	Host     string
	Port     int
	Identity string

	// Fingerprint separates entries for one principal with different secrets.
	Fingerprint string
}

func (k Key) String() string {
	return k.Identity + "@" + k.Host + ":" + strconv.Itoa(k.Port)
}

// KeyFor derives the pool key for target under cred. A credential port
// overrides the URL port.
func KeyFor(target crawler.Target, cred auth.Credential) Key {
	port := target.Port
	if cred.Port() > 0 {
		port = cred.Port()
	}
	return Key{
		Host:        strings.ToLower(target.Host),
		Port:        port,
		Identity:    cred.Identity(),
		Fingerprint: cred.Fingerprint(),
	}
}

// Dialer opens and authenticates a new session for key.
type Dialer[H Handle] func(ctx context.Context, key Key, cred auth.Credential) (H, error)

// DialLimiter paces new connections per host.
type DialLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Options configures a Pool.
type Options struct {
	// Protocol labels metrics and log lines, e.g. "sftp".
	Protocol      string
	MaxIdlePerKey int
	Limiter       DialLimiter
	Logger        *zap.Logger
}

// Pool lends out sessions keyed by host, port and identity.
type Pool[H Handle] struct {
	protocol string
	registry *auth.Registry
	dial     Dialer[H]
	limiter  DialLimiter
	maxIdle  int
	logger   *zap.Logger

	idle   sync.Map // Key -> chan *Conn[H]
	mu     sync.Mutex
	open   map[uint64]*Conn[H]
	nextID atomic.Uint64
	closed atomic.Bool
}

// New builds a pool that resolves credentials from registry and opens
// sessions with dial.
func New[H Handle](registry *auth.Registry, dial Dialer[H], opts Options) *Pool[H] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIdle := opts.MaxIdlePerKey
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdlePerKey
	}
	protocol := opts.Protocol
	if protocol == "" {
		protocol = "unknown"
	}
	return &Pool[H]{
		protocol: protocol,
		registry: registry,
		dial:     dial,
		limiter:  opts.Limiter,
		maxIdle:  maxIdle,
		logger:   logger.Named("connpool").With(zap.String("protocol", protocol)),
		open:     make(map[uint64]*Conn[H]),
	}
}

// Borrow returns a live session for target, reusing an idle one when possible.
// The caller must hand it back with Release or Discard.
func (p *Pool[H]) Borrow(ctx context.Context, target crawler.Target) (*Conn[H], error) {
	url := target.URL()
	if p.closed.Load() {
		return nil, &crawler.TransportError{Op: "borrow", URL: url, Err: crawler.ErrPoolClosed}
	}

	cred, ok := p.registry.Resolve(url)
	if !ok {
		cred = auth.Anonymous()
	}
	key := KeyFor(target, cred)

	if c := p.popIdle(key); c != nil {
		metrics.ObserveBorrow(p.protocol, true)
		return c, nil
	}

	c, err := p.connect(ctx, key, cred, url)
	if err != nil {
		return nil, err
	}
	metrics.ObserveBorrow(p.protocol, false)
	return c, nil
}

func (p *Pool[H]) popIdle(key Key) *Conn[H] {
	queue := p.queue(key)
	for {
		select {
		case c := <-queue:
			if c.IsConnected() {
				c.inUse.Store(true)
				return c
			}
			p.disconnect(c, "dead")
		default:
			return nil
		}
	}
}

func (p *Pool[H]) connect(ctx context.Context, key Key, cred auth.Credential, url string) (*Conn[H], error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, key.Host); err != nil {
			return nil, &crawler.TransportError{Op: "connect", URL: url, Err: err}
		}
	}

	handle, err := p.dial(ctx, key, cred)
	metrics.ObserveDial(p.protocol, err == nil)
	if err != nil {
		p.logger.Debug("dial failed", zap.Stringer("key", key), zap.Error(err))
		return nil, &crawler.TransportError{Op: "connect", URL: url, Err: err}
	}

	c := &Conn[H]{pool: p, key: key, handle: handle, id: p.nextID.Add(1)}
	c.inUse.Store(true)

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		if cerr := handle.Close(); cerr != nil {
			p.logger.Debug("close after shutdown", zap.Stringer("key", key), zap.Error(cerr))
		}
		return nil, &crawler.TransportError{Op: "connect", URL: url, Err: crawler.ErrPoolClosed}
	}
	p.open[c.id] = c
	p.mu.Unlock()

	metrics.IncOpenConnections(p.protocol)
	p.logger.Debug("connected", zap.Stringer("key", key), zap.Uint64("conn_id", c.id))
	return c, nil
}

func (p *Pool[H]) queue(key Key) chan *Conn[H] {
	if q, ok := p.idle.Load(key); ok {
		return q.(chan *Conn[H])
	}
	q, _ := p.idle.LoadOrStore(key, make(chan *Conn[H], p.maxIdle))
	return q.(chan *Conn[H])
}

func (p *Pool[H]) release(c *Conn[H]) {
	if !c.inUse.CompareAndSwap(true, false) || c.closed.Load() {
		return
	}
	switch {
	case p.closed.Load():
		p.disconnect(c, "shutdown")
	case !c.handle.IsConnected():
		p.disconnect(c, "dead")
	default:
		select {
		case p.queue(c.key) <- c:
		default:
			p.disconnect(c, "overflow")
		}
	}
}

// disconnect closes c exactly once and stops tracking it.
func (p *Pool[H]) disconnect(c *Conn[H], reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		p.mu.Lock()
		delete(p.open, c.id)
		p.mu.Unlock()

		metrics.DecOpenConnections(p.protocol)
		metrics.ObserveDiscard(p.protocol, reason)
		c.closeErr = c.handle.Close()
		if c.closeErr != nil {
			p.logger.Debug("disconnect failed",
				zap.Stringer("key", c.key), zap.String("reason", reason), zap.Error(c.closeErr))
		}
	})
	return c.closeErr
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Open int
	Idle int
}

// Stats counts open and idle sessions.
func (p *Pool[H]) Stats() Stats {
	p.mu.Lock()
	open := len(p.open)
	p.mu.Unlock()

	idle := 0
	p.idle.Range(func(_, q any) bool {
		idle += len(q.(chan *Conn[H]))
		return true
	})
	return Stats{Open: open, Idle: idle}
}

// CloseAll disconnects every idle and borrowed session. Failures are logged,
// never returned. Later borrows fail with crawler.ErrPoolClosed.
func (p *Pool[H]) CloseAll() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return
	}
	conns := make([]*Conn[H], 0, len(p.open))
	for _, c := range p.open {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	// Idle sessions are also tracked as open, so draining is enough here.
	p.idle.Range(func(key, q any) bool {
		queue := q.(chan *Conn[H])
	drain:
		for {
			select {
			case <-queue:
			default:
				break drain
			}
		}
		p.idle.Delete(key)
		return true
	})

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			if err := p.disconnect(c, "shutdown"); err != nil {
				p.logger.Warn("failed to disconnect on shutdown", zap.Stringer("key", c.key), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	p.logger.Info("pool closed", zap.Int("disconnected", len(conns)))
}

// Conn is a session on loan from a Pool.
type Conn[H Handle] struct {
	pool   *Pool[H]
	key    Key
	handle H
	id     uint64

	inUse     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Handle returns the underlying session.
func (c *Conn[H]) Handle() H { return c.handle }

// Key returns the key the session was opened under.
func (c *Conn[H]) Key() Key { return c.key }

// IsConnected reports whether the session is still usable.
func (c *Conn[H]) IsConnected() bool {
	return !c.closed.Load() && c.handle.IsConnected()
}

// Release hands the session back. Dead sessions are disconnected instead of
// pooled. Releasing twice is a no-op.
func (c *Conn[H]) Release() { c.pool.release(c) }

// Discard disconnects the session without pooling it.
func (c *Conn[H]) Discard() {
	c.inUse.Store(false)
	_ = c.pool.disconnect(c, "discarded")
}

// Close disconnects the session. It is safe to call from another goroutine
// while the session is in use; pending I/O on it fails.
func (c *Conn[H]) Close() error {
	return c.pool.disconnect(c, "interrupted")
}

func (c *Conn[H]) String() string {
	return fmt.Sprintf("%s#%d", c.key, c.id)
}
