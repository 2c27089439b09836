// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources for the pagination cursor of every source (fetch unit).
//   - GET /v1/hosts/{hostname} for a stored host document (normalize unit).
package api
