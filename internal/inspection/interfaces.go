package inspection

import (
	"context"
	"time"
)

// BlobStore persists raw documents.
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// URLSigner issues long-lived read URLs for stored objects.
type URLSigner interface {
	SignedURL(path string, ttl time.Duration) (string, error)
}

// RecordStore persists normalized records. Each write call is atomic.
type RecordStore interface {
	Upsert(ctx context.Context, records []NormalizedRecord) error
	BatchDelete(ctx context.Context, ids []string) error
	TagUniqueKeys(ctx context.Context, tags []KeyTag) error
	ListByDateRange(ctx context.Context, start, end time.Time) ([]NormalizedRecord, error)
	ListBySourceIDs(ctx context.Context, ids []int64) ([]NormalizedRecord, error)
	ListAll(ctx context.Context) ([]NormalizedRecord, error)
}

// KeyTag assigns a unique key to a stored record.
type KeyTag struct {
	ID        string
	UniqueKey string
}

// GenerationConfig controls model sampling and output size.
type GenerationConfig struct {
	Temperature      float32
	TopP             float32
	TopK             int32
	CandidateCount   int32
	MaxOutputTokens  int32
	ResponseMIMEType string
}

// ModelRequest is a single document submitted to a model.
type ModelRequest struct {
	Instruction string
	SchemaHint  string
	Document    []byte
	MIMEType    string
	Config      GenerationConfig
}

// Model calls an LLM provider and returns its text output.
type Model interface {
	Generate(ctx context.Context, req ModelRequest) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
