// Package main hosts the remotefetch entrypoint.
//
// Architecture overview:
//   - Fetch layer: sftp:// and smb:// URLs are routed by scheme to a protocol fetcher. Each fetcher borrows a
//     session from a keyed connection pool (host, port and resolved identity), runs the fetch under an optional
//     access deadline, and returns a tagged result: file, directory, not found or bad target.
//   - Credentials: an ordered list of URL patterns from configuration; the first full match wins, otherwise the
//     fetch runs anonymously.
//   - Content: bodies below fetch.max_cached_content_size stay in memory, larger ones are spooled to temp files
//     that are deleted when the result is released. Per-MIME limits reject oversized content before download.
//   - Workers: a puddle-backed pool of fetch workers built from the component registry bounds concurrency. A
//     worker digests each body with SHA-256 and writes it to the output directory when one is configured.
//   - Surfaces: `remotefetch fetch URL...` for one-shot fetches and `remotefetch serve` for the HTTP API.
//
// Quick checklist:
//   - Configure env vars: REMOTEFETCH_FETCH_CONNECT_TIMEOUT_MS, REMOTEFETCH_FETCH_ACCESS_TIMEOUT_MS,
//     REMOTEFETCH_FETCH_STRICT_HOST_KEY_CHECKING with REMOTEFETCH_FETCH_KNOWN_HOSTS_FILE, REMOTEFETCH_SERVER_PORT.
//     Credentials are easiest to keep in the YAML config file.
//   - Run locally: go run ./cmd/remotefetch fetch --config config.yaml sftp://host/path/file.txt
package main
