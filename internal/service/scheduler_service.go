package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// scheduleState is one configured entry plus its parsed cadence and
// last-fired watermark. The watermark is in-memory only: ticks missed
// while the process was down are not backfilled.
type scheduleState struct {
	entry     model.ScheduleEntry
	cronSched cron.Schedule
	lastFired time.Time
}

func (s *scheduleState) due(now time.Time) bool {
	if s.cronSched != nil {
		return !s.cronSched.Next(s.lastFired).After(now)
	}
	return !s.lastFired.Add(s.entry.Every).After(now)
}

// SchedulerService triggers recurring job envelopes with no originating
// request. Each fire targets an explicit partition, or fans out over
// all partitions that are active at fire time, so tenants registered
// between ticks are picked up automatically.
type SchedulerService struct {
	entries    []*scheduleState
	directory  store.DirectoryStore
	dispatcher *DispatcherService
	clock      clock.Clock
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSchedulerService creates a scheduler from static configuration.
// Entries are parsed once; changes require a restart.
func NewSchedulerService(
	entries []model.ScheduleEntry,
	directory store.DirectoryStore,
	dispatcher *DispatcherService,
	clk clock.Clock,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*SchedulerService, error) {
	if interval <= 0 {
		interval = time.Second
	}

	now := clk.Now()
	states := make([]*scheduleState, 0, len(entries))
	for _, entry := range entries {
		state := &scheduleState{entry: entry, lastFired: now}
		switch {
		case entry.Cron != "":
			sched, err := cron.ParseStandard(entry.Cron)
			if err != nil {
				return nil, fmt.Errorf("invalid cron expression %q for %s: %w", entry.Cron, entry.JobKind, err)
			}
			state.cronSched = sched
		case entry.Every > 0:
		default:
			return nil, fmt.Errorf("schedule entry %s needs either cron or every", entry.JobKind)
		}
		if entry.Target == "" {
			return nil, fmt.Errorf("schedule entry %s needs a target", entry.JobKind)
		}
		states = append(states, state)
	}

	return &SchedulerService{
		entries:    states,
		directory:  directory,
		dispatcher: dispatcher,
		clock:      clk,
		interval:   interval,
		metrics:    m,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start runs the periodic driver. One logical timer; fan-out happens
// inside Tick.
func (s *SchedulerService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Scheduler started",
			zap.Int("entries", len(s.entries)),
			zap.Duration("interval", s.interval))

		for {
			select {
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := s.Tick(ctx, now); err != nil {
					s.logger.Error("Scheduler tick reported failures", zap.Error(err))
				}
			}
		}
	}()
}

// Stop stops the periodic driver
func (s *SchedulerService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Tick fires every due entry. Per-partition enqueue failures are
// collected and reported; they never block the remaining partitions.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) error {
	var result *multierror.Error

	for _, state := range s.entries {
		if !state.due(now) {
			continue
		}
		state.lastFired = now

		if err := s.fire(ctx, state.entry, now); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (s *SchedulerService) fire(ctx context.Context, entry model.ScheduleEntry, now time.Time) error {
	targets, err := s.resolveTargets(ctx, entry)
	if err != nil {
		return fmt.Errorf("schedule %s: failed to resolve targets: %w", entry.JobKind, err)
	}

	s.metrics.SchedulerFires.WithLabelValues(entry.JobKind).Inc()

	var opts []EnqueueOption
	if entry.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(entry.MaxAttempts))
	}

	var result *multierror.Error
	enqueued := 0
	for _, partition := range targets {
		if _, err := s.dispatcher.EnqueueTo(ctx, entry.JobKind, entry.Payload, partition, opts...); err != nil {
			s.metrics.SchedulerFanoutFails.Inc()
			result = multierror.Append(result,
				fmt.Errorf("schedule %s: partition %s: %w", entry.JobKind, partition.PartitionID, err))
			continue
		}
		enqueued++
	}

	s.logger.Info("Schedule entry fired",
		zap.String("kind", entry.JobKind),
		zap.String("target", entry.Target),
		zap.Time("at", now),
		zap.Int("enqueued", enqueued),
		zap.Int("failed", len(targets)-enqueued))

	return result.ErrorOrNil()
}

// resolveTargets resolves the entry's target set at fire time, not at
// configuration time.
func (s *SchedulerService) resolveTargets(ctx context.Context, entry model.ScheduleEntry) ([]*model.Partition, error) {
	if entry.Target == model.ScheduleTargetAll {
		return s.directory.ListPartitions(ctx, model.PartitionActive)
	}

	partition, err := s.directory.GetPartition(ctx, entry.Target)
	if err != nil {
		return nil, err
	}
	if partition.Status != model.PartitionActive {
		s.logger.Warn("Skipping schedule fire for inactive partition",
			zap.String("kind", entry.JobKind),
			zap.String("partition_id", partition.PartitionID),
			zap.String("status", string(partition.Status)))
		return nil, nil
	}
	return []*model.Partition{partition}, nil
}
