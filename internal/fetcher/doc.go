// Package fetcher holds the result and content pipeline shared by the
// protocol fetchers in its subpackages.
package fetcher
