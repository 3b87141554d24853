package model

import (
	"encoding/json"
	"time"
)

// JobStatus tracks an envelope through the queue
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobRetrying   JobStatus = "retrying"
	JobSucceeded  JobStatus = "succeeded"
	JobCancelled  JobStatus = "cancelled"
	// JobDeadLettered is terminal; the envelope is preserved for operator replay
	JobDeadLettered JobStatus = "dead_lettered"
)

// FailureCode classifies why an envelope reached dead-letter
type FailureCode string

const (
	// FailureTenantNoLongerActive means the partition was suspended or
	// decommissioned between enqueue and dequeue
	FailureTenantNoLongerActive FailureCode = "tenant_no_longer_active"
	// FailurePermanent means the handler returned a non-retryable error
	FailurePermanent FailureCode = "permanent"
	// FailureRetriesExhausted means attempts reached max_attempts
	FailureRetriesExhausted FailureCode = "retries_exhausted"
	// FailureUnknownKind means no handler is registered for the job kind
	FailureUnknownKind FailureCode = "unknown_kind"
)

// JobEnvelope is a durable unit of deferred work plus its target
// partition. It carries the reconstruction key (partition id and a
// quota tier snapshot), never a live TenantContext: validity is
// re-derived at execution time.
type JobEnvelope struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PartitionID string          `json:"partition_id"`
	QuotaTier   QuotaTier       `json:"quota_tier"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	NotBefore   time.Time       `json:"not_before,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	FailureCode FailureCode     `json:"failure_code,omitempty"`
}

// ScheduleTarget selects the partitions a schedule entry fans out to
const ScheduleTargetAll = "all"

// ScheduleEntry describes one recurring job. Loaded once at startup
// and immutable thereafter; targets are resolved at fire time.
type ScheduleEntry struct {
	JobKind     string          `mapstructure:"job_kind"`
	Every       time.Duration   `mapstructure:"every"`
	Cron        string          `mapstructure:"cron"`
	Target      string          `mapstructure:"target"`
	Payload     json.RawMessage `mapstructure:"-"`
	MaxAttempts int             `mapstructure:"max_attempts"`
}
