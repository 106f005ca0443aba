// Package api hosts the operator HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz for liveness.
//   - GET /readyz reports 503 while the upstream circuit is open.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run describes the current run.
package api
