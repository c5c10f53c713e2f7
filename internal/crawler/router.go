package crawler

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Router dispatches requests to a Fetcher by URL scheme.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]Fetcher)}
}

// Register binds a scheme to a fetcher, replacing any previous binding.
func (r *Router) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[strings.ToLower(scheme)] = f
}

// Schemes lists the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, request Request) (*Result, error) {
	u, err := url.Parse(strings.ReplaceAll(request.URL, " ", "%20"))
	if err != nil {
		return nil, &MalformedTargetError{URL: request.URL, Reason: "invalid url", Err: err}
	}
	r.mu.RLock()
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, &MalformedTargetError{URL: request.URL, Reason: "no fetcher for scheme " + u.Scheme}
	}
	return f.Fetch(ctx, request)
}

// Close closes every registered fetcher once, even if bound to several schemes.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Fetcher]struct{}, len(r.fetchers))
	var err error
	for _, f := range r.fetchers {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		err = multierr.Append(err, f.Close())
	}
	return err
}
