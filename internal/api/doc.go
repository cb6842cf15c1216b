// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sites lists the configured site profiles.
//   - POST /v1/runs starts a crawl run in the background.
//   - GET /v1/runs and /v1/runs/{run_id} report run status and per-site results.
package api
