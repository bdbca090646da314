// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/timeAnalysis, POST /api/browseDocuments, GET /api/firebaseData and
//     POST /api/chat for the query path.
//   - POST /v1/runs and GET /v1/runs/{run_id} for ingestion runs.
package api
