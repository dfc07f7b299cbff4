// Package api hosts the HTTP control surface for the crawl service. Notable
// routes:
//   - GET /healthz and /readyz for health checks, GET /metrics for Prometheus.
//   - GET /v1/crawl and POST /v1/crawl/{start,pause,abort,emergency-stop}
//     to observe and drive the runner.
//   - GET /v1/crawl/logs for recent log lines, /v1/crawl/logs/stream for
//     server-sent events.
//   - GET|PUT /v1/settings and /v1/selection, GET|DELETE /v1/checkpoint,
//     GET /v1/history for persisted records.
package api
