package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"github.com/M-Moiz598/tenantgate/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobHandler executes one envelope inside an established partition
// scope. Delivery is at-least-once: handlers must be idempotent or
// deduplicate by envelope id. Long-running handlers should poll
// CancelRequested at safe points.
type JobHandler func(ctx context.Context, env *model.JobEnvelope) error

// EnqueueOption customizes an envelope at enqueue time
type EnqueueOption func(*model.JobEnvelope)

// WithMaxAttempts overrides the default attempt budget
func WithMaxAttempts(n int) EnqueueOption {
	return func(env *model.JobEnvelope) {
		if n > 0 {
			env.MaxAttempts = n
		}
	}
}

// WithNotBefore delays execution until the given time
func WithNotBefore(t time.Time) EnqueueOption {
	return func(env *model.JobEnvelope) {
		env.NotBefore = t
	}
}

// DispatcherService carries deferred work across the process boundary.
// Envelopes capture only the partition id and a quota tier snapshot,
// never a live TenantContext: the context is re-derived, and the
// partition's status re-checked, at execution time.
type DispatcherService struct {
	queue       store.JobQueue
	directory   store.DirectoryStore
	gw          *gateway.Gateway
	handlers    map[string]JobHandler
	handlersMu  sync.RWMutex
	maxAttempts int
	baseBackoff time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcherService creates a new dispatcher
func NewDispatcherService(
	queue store.JobQueue,
	directory store.DirectoryStore,
	gw *gateway.Gateway,
	maxAttempts int,
	baseBackoff time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DispatcherService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}

	return &DispatcherService{
		queue:       queue,
		directory:   directory,
		gw:          gw,
		handlers:    make(map[string]JobHandler),
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		metrics:     m,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// RegisterHandler registers the handler for a job kind. Job kinds are
// an open string enum; payloads are opaque to the dispatcher.
func (d *DispatcherService) RegisterHandler(kind string, handler JobHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[kind] = handler
}

// Enqueue captures the calling TenantContext's partition into a new
// envelope and persists it. Returns the envelope id.
func (d *DispatcherService) Enqueue(ctx context.Context, kind string, payload json.RawMessage, tc *model.TenantContext, opts ...EnqueueOption) (string, error) {
	if tc == nil {
		return "", apperrors.ErrNoActiveContext
	}
	return d.enqueue(ctx, kind, payload, tc.PartitionID, tc.QuotaTier, opts...)
}

// EnqueueTo targets an explicit partition. Used by the scheduler and
// the registration flow, which have no inherited request context.
func (d *DispatcherService) EnqueueTo(ctx context.Context, kind string, payload json.RawMessage, partition *model.Partition, opts ...EnqueueOption) (string, error) {
	return d.enqueue(ctx, kind, payload, partition.PartitionID, partition.QuotaTier, opts...)
}

func (d *DispatcherService) enqueue(ctx context.Context, kind string, payload json.RawMessage, partitionID string, tier model.QuotaTier, opts ...EnqueueOption) (string, error) {
	env := &model.JobEnvelope{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		PartitionID: partitionID,
		QuotaTier:   tier,
		EnqueuedAt:  time.Now(),
		Attempt:     0,
		MaxAttempts: d.maxAttempts,
	}
	for _, opt := range opts {
		opt(env)
	}

	if err := d.queue.Enqueue(ctx, env); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}

	d.metrics.JobsEnqueuedTotal.WithLabelValues(kind).Inc()
	d.logger.Debug("Envelope enqueued",
		zap.String("envelope_id", env.ID),
		zap.String("kind", kind),
		zap.String("partition_id", partitionID))

	return env.ID, nil
}

// ProcessOne claims and fully handles a single envelope. Returns
// store.ErrNotFound when the claim wait elapsed empty.
func (d *DispatcherService) ProcessOne(ctx context.Context, consumer string, block time.Duration) error {
	claimed, err := d.queue.Claim(ctx, consumer, block)
	if err != nil {
		return err
	}
	return d.handle(ctx, claimed)
}

// handle drives one claimed envelope to a terminal outcome and acks it.
func (d *DispatcherService) handle(ctx context.Context, claimed *store.ClaimedJob) error {
	env := claimed.Envelope

	// Cooperative cancellation: honored before execution starts
	if cancelled, err := d.queue.CancelRequested(ctx, env.ID); err == nil && cancelled {
		d.logger.Info("Envelope cancelled before execution",
			zap.String("envelope_id", env.ID),
			zap.String("kind", env.Kind))
		_ = d.queue.SetStatus(ctx, env.ID, model.JobCancelled)
		d.metrics.JobsProcessedTotal.WithLabelValues(env.Kind, "cancelled").Inc()
		return d.queue.Ack(ctx, claimed.AckID)
	}

	// Re-validate the partition at dequeue time. A tenant suspended or
	// decommissioned after enqueue executes zero job-body side effects;
	// this is not retried.
	partition, err := d.directory.GetPartition(ctx, env.PartitionID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return d.deadLetter(ctx, claimed, model.FailureTenantNoLongerActive,
				fmt.Errorf("%w: partition %s not in directory", apperrors.ErrTenantNoLongerActive, env.PartitionID))
		}
		// Directory unavailable: infrastructure failure, worth a retry
		return d.retryOrDeadLetter(ctx, claimed, apperrors.Transient(err))
	}
	if partition.Status != model.PartitionActive {
		return d.deadLetter(ctx, claimed, model.FailureTenantNoLongerActive,
			fmt.Errorf("%w: partition %s is %s", apperrors.ErrTenantNoLongerActive, env.PartitionID, partition.Status))
	}

	d.handlersMu.RLock()
	handler, ok := d.handlers[env.Kind]
	d.handlersMu.RUnlock()
	if !ok {
		return d.deadLetter(ctx, claimed, model.FailureUnknownKind,
			fmt.Errorf("no handler registered for job kind %q", env.Kind))
	}

	// Fresh context for this execution; enqueue-time state is not trusted
	tc := &model.TenantContext{
		PartitionID: partition.PartitionID,
		SchemaName:  partition.SchemaName,
		QuotaTier:   partition.QuotaTier,
		ResolvedAt:  time.Now(),
	}

	_ = d.queue.SetStatus(ctx, env.ID, model.JobProcessing)
	d.metrics.ActiveWorkers.Inc()
	start := time.Now()

	err = d.gw.WithContext(ctx, tc, func(ctx context.Context) error {
		return handler(ctx, env)
	})

	d.metrics.ActiveWorkers.Dec()
	d.metrics.JobDuration.WithLabelValues(env.Kind).Observe(time.Since(start).Seconds())

	if err != nil {
		return d.retryOrDeadLetter(ctx, claimed, err)
	}

	_ = d.queue.SetStatus(ctx, env.ID, model.JobSucceeded)
	d.metrics.JobsProcessedTotal.WithLabelValues(env.Kind, "succeeded").Inc()
	d.logger.Info("Envelope processed",
		zap.String("envelope_id", env.ID),
		zap.String("kind", env.Kind),
		zap.String("partition_id", env.PartitionID),
		zap.Int("attempt", env.Attempt))

	return d.queue.Ack(ctx, claimed.AckID)
}

// retryOrDeadLetter applies the retry policy: transient failures back
// off exponentially until max_attempts, everything else dead-letters.
func (d *DispatcherService) retryOrDeadLetter(ctx context.Context, claimed *store.ClaimedJob, jobErr error) error {
	env := claimed.Envelope
	env.Attempt++
	env.LastError = jobErr.Error()

	if !apperrors.IsTransient(jobErr) {
		return d.deadLetter(ctx, claimed, model.FailurePermanent, jobErr)
	}
	if env.Attempt >= env.MaxAttempts {
		return d.deadLetter(ctx, claimed, model.FailureRetriesExhausted, jobErr)
	}

	delay := d.backoff(env.Attempt)
	if err := d.queue.ScheduleRetry(ctx, env, time.Now().Add(delay)); err != nil {
		d.logger.Error("Failed to schedule retry",
			zap.String("envelope_id", env.ID),
			zap.Error(err))
		return err
	}

	d.metrics.JobsProcessedTotal.WithLabelValues(env.Kind, "retried").Inc()
	d.logger.Warn("Envelope scheduled for retry",
		zap.String("envelope_id", env.ID),
		zap.String("kind", env.Kind),
		zap.Int("attempt", env.Attempt),
		zap.Int("max_attempts", env.MaxAttempts),
		zap.Duration("delay", delay),
		zap.Error(jobErr))

	return d.queue.Ack(ctx, claimed.AckID)
}

// deadLetter preserves the envelope for operator inspection and replay.
// Dead letters are reported, never silently dropped.
func (d *DispatcherService) deadLetter(ctx context.Context, claimed *store.ClaimedJob, code model.FailureCode, jobErr error) error {
	env := claimed.Envelope
	env.FailureCode = code
	env.LastError = jobErr.Error()

	if err := d.queue.DeadLetter(ctx, env); err != nil {
		d.logger.Error("Failed to store dead letter",
			zap.String("envelope_id", env.ID),
			zap.Error(err))
		return err
	}

	d.metrics.JobsProcessedTotal.WithLabelValues(env.Kind, "dead_lettered").Inc()
	d.metrics.JobsDeadLettered.WithLabelValues(env.Kind, string(code)).Inc()
	d.logger.Error("Envelope dead-lettered",
		zap.String("envelope_id", env.ID),
		zap.String("kind", env.Kind),
		zap.String("partition_id", env.PartitionID),
		zap.String("failure_code", string(code)),
		zap.Int("attempt", env.Attempt),
		zap.Error(jobErr))

	return d.queue.Ack(ctx, claimed.AckID)
}

// maxBackoff caps the exponential retry delay
const maxBackoff = 5 * time.Minute

// backoff computes the exponential retry delay with jitter, capped so
// large attempt counts never overflow into negative or multi-year delays
func (d *DispatcherService) backoff(attempt int) time.Duration {
	delay := d.baseBackoff
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d.baseBackoff)))
	return delay + jitter
}

// Run starts the worker runtime: a claim loop feeding a bounded worker
// pool, plus the mover releasing due retry and delayed envelopes.
// Blocks until Stop is called or ctx is canceled.
func (d *DispatcherService) Run(ctx context.Context, consumer string, pool *workerpool.WorkerPool, claimBlock, moveInterval time.Duration) {
	d.wg.Add(2)
	go d.runMover(ctx, moveInterval)
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := d.queue.Claim(ctx, consumer, claimBlock)
		if err != nil {
			if apperrors.Is(err, store.ErrNotFound) || ctx.Err() != nil {
				continue
			}
			d.logger.Error("Failed to claim envelope", zap.Error(err))
			continue
		}

		task := workerpool.Task{
			ID:      claimed.Envelope.ID,
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				return d.handle(taskCtx, claimed)
			},
		}
		if err := pool.Submit(ctx, task); err != nil {
			d.logger.Error("Failed to submit claimed envelope to pool",
				zap.String("envelope_id", claimed.Envelope.ID),
				zap.Error(err))
		}
	}
}

// runMover periodically releases due retry and delayed envelopes
func (d *DispatcherService) runMover(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			moved, err := d.queue.MoveDue(ctx, now, 100)
			if err != nil {
				d.logger.Error("Failed to release deferred envelopes", zap.Error(err))
			}
			if moved > 0 {
				d.logger.Debug("Released deferred envelopes", zap.Int("count", moved))
			}
		}
	}
}

// Stop stops the claim loop and mover
func (d *DispatcherService) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}

// CancelRequested lets long-running job bodies poll for cooperative
// cancellation at safe points
func (d *DispatcherService) CancelRequested(ctx context.Context, envelopeID string) (bool, error) {
	return d.queue.CancelRequested(ctx, envelopeID)
}

// RequestCancel marks an envelope for cooperative cancellation
func (d *DispatcherService) RequestCancel(ctx context.Context, envelopeID string) error {
	return d.queue.RequestCancel(ctx, envelopeID)
}

// ListDeadLetters returns dead-lettered envelopes for operator
// inspection, optionally filtered by partition
func (d *DispatcherService) ListDeadLetters(ctx context.Context, partitionID string, limit int) ([]*model.JobEnvelope, error) {
	return d.queue.ListDeadLetters(ctx, partitionID, limit)
}

// ReplayDeadLetter re-enqueues a dead-lettered envelope
func (d *DispatcherService) ReplayDeadLetter(ctx context.Context, envelopeID string) error {
	return d.queue.ReplayDeadLetter(ctx, envelopeID)
}
