// Package deadline bounds the wall-clock time of a single fetch.
package deadline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
)

// Run calls fn under a context that expires after timeout. A timeout of zero
// or less calls fn with ctx unchanged.
//
// The derived context is always canceled before Run returns, so nothing
// armed against it can fire into a later call. When fn fails after the
// deadline has passed, the failure is reported as a *crawler.CancellationError.
func Run[T any](ctx context.Context, url string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(runCtx)
	if err == nil {
		return v, nil
	}
	var cancelErr *crawler.CancellationError
	if errors.As(err, &cancelErr) {
		return v, err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, &crawler.CancellationError{URL: url, Timeout: timeout, Err: err}
	}
	return v, err
}

// Interrupt closes c once ctx is done, which unblocks any I/O pending on it.
// The returned stop function disarms the interrupt and reports whether it
// did so before c was closed.
func Interrupt(ctx context.Context, c io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
}
