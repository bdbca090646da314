// Package main hosts the inspector entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the analysis endpoints under /api, and run
//     submission under /v1/runs. Requests are validated and handed to the analyzer or the dispatcher.
//   - Dispatcher & queue: submitted runs are persisted to the RunStore, pass through a bounded in-memory queue sized
//     by server.queue_depth, and are processed one at a time by a single loop so provider quota is never shared
//     between runs.
//   - Ingestion pipeline: the worker deduplicates source records by identity key, downloads each PDF with bounded
//     retries (or reuses the stored copy), uploads it to the configured BlobStore (memory/local/GCS), and hands it to
//     the extraction batch. The batch picks a size tier, paces calls, and degrades output tokens on timeout; the
//     normalizer coerces raw model JSON into categorized observations with repeat-finding flags.
//   - Persistence & fanout: normalized records are upserted to Postgres (or memory), and a compact Pub/Sub
//     notification is published per record when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env (INSPECTOR_*) and files; zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Commands:
//   - serve: API plus dispatcher until SIGINT/SIGTERM.
//   - ingest <records.json>: one foreground ingestion pass.
//   - dedup [--mode tag|delete]: resolve duplicates already in the store.
//   - mirror <records.json> [--dir]: download documents locally, then upload them concurrently.
//
// Quick checklist:
//   - Provider: INSPECTOR_EXTRACT_PROVIDER=gemini|anthropic with INSPECTOR_GEMINI_API_KEY or
//     INSPECTOR_ANTHROPIC_API_KEY.
//   - Storage: INSPECTOR_STORAGE_BACKEND and INSPECTOR_STORAGE_BUCKET; INSPECTOR_DB_DSN for Postgres.
//   - Run locally: go run ./cmd/inspector serve --config config.yaml (or rely solely on env overrides).
package main
