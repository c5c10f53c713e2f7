// Package crawler defines the shared fetch contract used by every protocol
// fetcher: requests, tagged results, spooled bodies, the error taxonomy, and
// URL targeting helpers consumed by the outer crawl scheduler.
package crawler
