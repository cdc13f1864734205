// Package streaming implements the Streaming Ingestor (SPEC_FULL.md §4.7):
// a pluggable source -> normalized exception -> orchestrator/queue path
// with backpressure and rate-limit pre-checks.
package streaming

import (
	"context"
	"time"
)

// Message is the wire shape of an ingested raw exception.
type Message struct {
	TenantID          string
	SourceSystem      string
	RawPayload        map[string]any
	ExceptionType     *string
	Severity          *string
	Timestamp         *time.Time
	NormalizedContext map[string]any
	Metadata          map[string]any
	LowPriority       bool
}

// Handler processes one ingested message. It may itself be asynchronous
// (callers are free to return immediately after dispatching work).
type Handler func(ctx context.Context, msg Message) error

// Ingestor is the pluggable streaming source interface. Implementations:
// memory.Ingestor (in-memory stub for tests/embedded use) and a declared
// Kafka-backed ingestor (connection/commit details out of scope).
type Ingestor interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}
