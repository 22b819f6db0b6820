// Package api hosts the read-only status server for operators. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/failures lists album review pages whose latest fetch was abandoned.
//   - GET /v1/registry reports the identifier registry sizes.
//
// Everything under /v1 is rate limited per client IP.
package api
