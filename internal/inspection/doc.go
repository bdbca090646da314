// Package inspection holds the record, extraction, and error types shared by
// the ingestion pipeline, plus the collaborator interfaces it calls:
//   - BlobStore / URLSigner for raw PDFs (GCS, local disk, memory).
//   - RecordStore for normalized rows (Postgres, memory). Every write call is
//     one atomic batch so a failure never leaves a half-applied operation.
//   - Model for LLM providers (Gemini, Claude). Providers are not assumed to
//     enforce the output schema; see package normalize.
//
// Identity keys are owned by package dedup; nothing here derives them.
package inspection
