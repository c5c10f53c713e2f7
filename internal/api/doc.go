// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch to fetch one sftp:// or smb:// URL and return its summary.
//   - GET /v1/schemes to list the URL schemes the server can fetch.
package api
