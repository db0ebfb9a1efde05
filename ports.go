package sr

import (
	"context"
	"encoding/json"
	"time"
)

// EventStore is the append-only event log port. The log is the sole source of
// truth; everything else (projections, caches) must be rebuildable from it.
type EventStore interface {
	// Append atomically appends events to a stream using optimistic concurrency:
	// expectedVersion must equal the stream's current version or a
	// ConcurrencyConflict error is returned. Returns the new stream version.
	Append(ctx context.Context, streamID string, expectedVersion uint64, events []EventEnvelope) (uint64, error)
	// ReadStream returns events of one stream in stream-sequence order,
	// starting after fromSeq.
	ReadStream(ctx context.Context, streamID string, fromSeq uint64, limit int) ([]EventEnvelope, error)
	// ReplayAll returns events across all streams in global-sequence order,
	// starting after fromGlobalSeq.
	ReplayAll(ctx context.Context, fromGlobalSeq uint64, limit int) ([]EventEnvelope, error)
}

// EvidenceStore is the content-addressed evidence bundle port. Bundles are
// immutable: storing the same content twice yields the same hash and no rewrite.
type EvidenceStore interface {
	// Store persists a manifest plus named blobs and returns the bundle's
	// content hash (hex, no "sha256:" prefix).
	Store(ctx context.Context, manifest []byte, blobs map[string][]byte) (string, error)
	// Retrieve returns the manifest bytes for a content hash.
	Retrieve(ctx context.Context, contentHash string) ([]byte, error)
	// RetrieveBlob returns one named blob of a bundle.
	RetrieveBlob(ctx context.Context, contentHash, name string) ([]byte, error)
	// Exists reports whether a bundle with the content hash is stored.
	Exists(ctx context.Context, contentHash string) (bool, error)
}

// MessageBus publishes domain events and work commands to subjects.
type MessageBus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(ctx context.Context, subject string) (Subscription, error)
}

// Subscription yields messages from a subject until closed.
type Subscription interface {
	// Next blocks for the next message; returns false when the subscription is done.
	Next(ctx context.Context) ([]byte, bool)
	Close() error
}

// Cache is a shared key/value cache with TTL support, used for projection read
// caching and message idempotency keys.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (bool, string, error)
	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	GetStruct(ctx context.Context, key string, target any) (bool, error)
	Delete(ctx context.Context, keys []string) (bool, error)
	Ping(ctx context.Context) error
}

// SuiteRecord is a stored oracle suite definition. The definition JSON is
// owned by the oracles package; registries treat it as opaque.
type SuiteRecord struct {
	SuiteID    string          `json:"suite_id"`
	SuiteHash  string          `json:"suite_hash"`
	Definition json.RawMessage `json:"definition"`
	Pinned     bool            `json:"pinned"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SuiteRegistry persists oracle suite definitions with pinning. Registering a
// pinned suite under a different hash is an invariant violation.
type SuiteRegistry interface {
	Register(ctx context.Context, suiteID, suiteHash string, definition json.RawMessage) error
	Pin(ctx context.Context, suiteID string) error
	Get(ctx context.Context, suiteID string) (*SuiteRecord, error)
	List(ctx context.Context) ([]SuiteRecord, error)
}

// IdentityProvider validates bearer tokens and derives actor identity.
type IdentityProvider interface {
	Validate(ctx context.Context, token string) (ActorID, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
