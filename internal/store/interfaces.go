package store

import (
	"context"
	"errors"
	"time"

	"github.com/M-Moiz598/tenantgate/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// DirectoryStore is the partition directory: the one piece of global,
// cross-tenant state, reachable without any TenantContext.
type DirectoryStore interface {
	// ResolveDomain maps a routing key to its partition
	ResolveDomain(ctx context.Context, domain string) (*model.Partition, error)

	// GetPartition retrieves a partition by id
	GetPartition(ctx context.Context, partitionID string) (*model.Partition, error)

	// RegisterPartition creates the directory entry, its routing keys and
	// the isolated schema in a single transaction
	RegisterPartition(ctx context.Context, partition *model.Partition, domains []string) error

	// SetStatus transitions a partition's lifecycle status
	SetStatus(ctx context.Context, partitionID string, status model.PartitionStatus) error

	// ListPartitions retrieves all partitions with the given status
	ListPartitions(ctx context.Context, status model.PartitionStatus) ([]*model.Partition, error)

	// AddDomain attaches an additional routing key to a partition
	AddDomain(ctx context.Context, partitionID, domain string, primary bool) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ClaimedJob is a dequeued envelope plus the receipt needed to ack it
type ClaimedJob struct {
	Envelope *model.JobEnvelope
	AckID    string
}

// JobQueue is the durable queue carrying envelopes across the process
// boundary from enqueuers to workers. At-least-once delivery; no
// ordering guarantee between independently enqueued envelopes.
type JobQueue interface {
	// Enqueue persists an envelope; envelopes with a future NotBefore are
	// held back until due
	Enqueue(ctx context.Context, env *model.JobEnvelope) error

	// Claim blocks up to the given duration for the next ready envelope.
	// Returns ErrNotFound when the wait elapses empty.
	Claim(ctx context.Context, consumer string, block time.Duration) (*ClaimedJob, error)

	// Ack acknowledges a claimed envelope after terminal handling
	Ack(ctx context.Context, ackID string) error

	// ScheduleRetry holds an envelope back until the given time
	ScheduleRetry(ctx context.Context, env *model.JobEnvelope, at time.Time) error

	// MoveDue releases due retry and delayed envelopes back into the
	// ready queue, up to limit, and reports how many moved
	MoveDue(ctx context.Context, now time.Time, limit int) (int, error)

	// DeadLetter preserves an exhausted or permanently failed envelope
	DeadLetter(ctx context.Context, env *model.JobEnvelope) error

	// ListDeadLetters returns dead-lettered envelopes, optionally
	// filtered by partition
	ListDeadLetters(ctx context.Context, partitionID string, limit int) ([]*model.JobEnvelope, error)

	// ReplayDeadLetter re-enqueues a dead-lettered envelope with a fresh
	// attempt budget
	ReplayDeadLetter(ctx context.Context, envelopeID string) error

	// RequestCancel marks an envelope for cooperative cancellation
	RequestCancel(ctx context.Context, envelopeID string) error

	// CancelRequested reports whether cancellation was requested
	CancelRequested(ctx context.Context, envelopeID string) (bool, error)

	// SetStatus records the envelope's queue status for inspection
	SetStatus(ctx context.Context, envelopeID string, status model.JobStatus) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
