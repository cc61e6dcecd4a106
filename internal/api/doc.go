// Package api hosts the HTTP server, middleware, and REST handlers that expose
// the archiver. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch archives one URL and returns its outcome.
//   - POST /v1/batch archives a list of URLs and returns the ordered outcomes.
package api
