package fetcher

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/metrics"
)

// Method maps the content flag to the recorded request method.
func Method(includeContent bool) string {
	if includeContent {
		return crawler.MethodGet
	}
	return crawler.MethodHead
}

// NotFound is the soft result for a missing path.
func NotFound(url string) *crawler.Result {
	return &crawler.Result{URL: url, Kind: crawler.KindNotFound, StatusCode: http.StatusNotFound}
}

// BadTarget is the soft result for a path that is neither file nor directory.
func BadTarget(url string) *crawler.Result {
	return &crawler.Result{URL: url, Kind: crawler.KindBadTarget, StatusCode: http.StatusBadRequest}
}

// Directory is the result for a listed (or, without content, unlisted) directory.
func Directory(url string, children []string) *crawler.Result {
	return &crawler.Result{URL: url, Kind: crawler.KindDirectory, StatusCode: http.StatusOK, Children: children}
}

// ChildURLs builds one URL per entry below dir. "." and ".." are skipped,
// duplicates collapse, and the result is sorted.
func ChildURLs(dir crawler.Target, names []string) []string {
	seen := make(map[string]struct{}, len(names))
	children := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || name == "." || name == ".." {
			continue
		}
		u := dir.ChildURL(name)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		children = append(children, u)
	}
	sort.Strings(children)
	return children
}

// Outcome labels a fetch for metrics and logs.
func Outcome(res *crawler.Result, err error) string {
	var (
		limitErr     *crawler.LimitExceededError
		cancelErr    *crawler.CancellationError
		malformedErr *crawler.MalformedTargetError
	)
	switch {
	case err == nil && res == nil:
		return "none"
	case err == nil && res.StatusCode >= http.StatusInternalServerError:
		return "server_error"
	case err == nil:
		return res.Kind.String()
	case errors.As(err, &limitErr):
		return "limit_exceeded"
	case errors.As(err, &cancelErr):
		return "canceled"
	case errors.As(err, &malformedErr):
		return "malformed"
	default:
		return "transport_error"
	}
}

// Observe finishes a result and records fetch metrics.
func Observe(protocol, url string, includeContent bool, res *crawler.Result, err error, duration time.Duration) {
	var size int64
	if res != nil {
		res.Method = Method(includeContent)
		res.Duration = duration
		if res.Body != nil {
			size = res.Body.Len()
		}
	}
	metrics.ObserveFetch(protocol, url, Outcome(res, err), duration, size)
}
