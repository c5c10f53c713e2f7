package connpool

import (
	"context"
	"sync/atomic"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/deadline"
)

// Lease is a borrowed session bound to a fetch context. If the context ends
// before the lease is returned, the session is closed so blocked I/O fails.
type Lease[H Handle] struct {
	conn *Conn[H]
	stop func() bool
	done atomic.Bool
}

// Lease borrows a session for target and arms interruption on ctx.
func (p *Pool[H]) Lease(ctx context.Context, target crawler.Target) (*Lease[H], error) {
	conn, err := p.Borrow(ctx, target)
	if err != nil {
		return nil, err
	}
	return &Lease[H]{conn: conn, stop: deadline.Interrupt(ctx, conn)}, nil
}

// Handle returns the leased session.
func (l *Lease[H]) Handle() H { return l.conn.Handle() }

// Conn returns the pooled wrapper.
func (l *Lease[H]) Conn() *Conn[H] { return l.conn }

// Release disarms the interrupt and returns the session to the pool. If the
// interrupt already fired the session is discarded. Only the first Release
// or Discard has any effect.
func (l *Lease[H]) Release() {
	if !l.done.CompareAndSwap(false, true) {
		return
	}
	if !l.stop() {
		l.conn.Discard()
		return
	}
	l.conn.Release()
}

// Discard disarms the interrupt and disconnects the session.
func (l *Lease[H]) Discard() {
	if !l.done.CompareAndSwap(false, true) {
		return
	}
	l.stop()
	l.conn.Discard()
}
