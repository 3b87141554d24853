package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	retryKey      = "jobs:retry"
	delayedKey    = "jobs:delayed"
	deadLetterKey = "jobs:dead"
	cancelPrefix  = "jobs:cancel:"
	statusPrefix  = "jobs:status:"

	// Queue bookkeeping entries expire on their own; dead letters never do.
	statusTTL = 7 * 24 * time.Hour
	cancelTTL = 24 * time.Hour
)

// RedisJobQueue implements JobQueue on Redis: a stream plus consumer
// group for ready envelopes, sorted sets for retry and delayed
// envelopes, and a hash preserving dead letters for operator replay.
type RedisJobQueue struct {
	client *redis.Client
	stream string
	group  string
	logger *zap.Logger
}

// NewRedisJobQueue creates a new Redis-backed job queue
func NewRedisJobQueue(host string, port int, password string, db int, stream, group string, logger *zap.Logger) (*RedisJobQueue, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Ensure consumer group exists; BUSYGROUP on restart is fine
	if err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &RedisJobQueue{
		client: client,
		stream: stream,
		group:  group,
		logger: logger,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Enqueue persists an envelope. Envelopes with a future NotBefore go to
// the delayed set and are released by MoveDue when due.
func (q *RedisJobQueue) Enqueue(ctx context.Context, env *model.JobEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if !env.NotBefore.IsZero() && env.NotBefore.After(time.Now()) {
		err = q.client.ZAdd(ctx, delayedKey, redis.Z{
			Score:  float64(env.NotBefore.Unix()),
			Member: data,
		}).Err()
	} else {
		err = q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]interface{}{"envelope": string(data)},
		}).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue envelope: %w", err)
	}

	return q.SetStatus(ctx, env.ID, model.JobQueued)
}

// Claim blocks up to the given duration for the next ready envelope
func (q *RedisJobQueue) Claim(ctx context.Context, consumer string, block time.Duration) (*ClaimedJob, error) {
	entries, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Block:    block,
		Count:    1,
	}).Result()

	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(entries) == 0 || len(entries[0].Messages) == 0 {
		return nil, ErrNotFound
	}

	msg := entries[0].Messages[0]
	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		// Malformed message: ack so it doesn't wedge the group
		_ = q.client.XAck(ctx, q.stream, q.group, msg.ID).Err()
		return nil, fmt.Errorf("malformed queue message %s", msg.ID)
	}

	var env model.JobEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		_ = q.client.XAck(ctx, q.stream, q.group, msg.ID).Err()
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &ClaimedJob{Envelope: &env, AckID: msg.ID}, nil
}

// Ack acknowledges a claimed envelope
func (q *RedisJobQueue) Ack(ctx context.Context, ackID string) error {
	return q.client.XAck(ctx, q.stream, q.group, ackID).Err()
}

// ScheduleRetry holds an envelope back until the given time
func (q *RedisJobQueue) ScheduleRetry(ctx context.Context, env *model.JobEnvelope, at time.Time) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := q.client.ZAdd(ctx, retryKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return q.SetStatus(ctx, env.ID, model.JobRetrying)
}

// MoveDue releases due retry and delayed envelopes into the ready
// stream, up to limit per set, and reports how many moved.
func (q *RedisJobQueue) MoveDue(ctx context.Context, now time.Time, limit int) (int, error) {
	moved := 0
	for _, key := range []string{retryKey, delayedKey} {
		n, err := q.moveDueFrom(ctx, key, now, limit)
		moved += n
		if err != nil {
			return moved, err
		}
	}
	return moved, nil
}

func (q *RedisJobQueue) moveDueFrom(ctx context.Context, key string, now time.Time, limit int) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to scan %s: %w", key, err)
	}

	moved := 0
	for _, raw := range members {
		var env model.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.logger.Warn("Dropping malformed deferred envelope",
				zap.String("set", key),
				zap.Error(err))
			q.client.ZRem(ctx, key, raw)
			continue
		}

		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]interface{}{"envelope": raw},
		}).Err(); err != nil {
			return moved, fmt.Errorf("failed to release envelope %s: %w", env.ID, err)
		}

		q.client.ZRem(ctx, key, raw)
		_ = q.SetStatus(ctx, env.ID, model.JobQueued)
		moved++
	}

	return moved, nil
}

// DeadLetter preserves an envelope in the dead-letter hash. Entries are
// only ever removed by an explicit operator replay, never by exhaustion.
func (q *RedisJobQueue) DeadLetter(ctx context.Context, env *model.JobEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := q.client.HSet(ctx, deadLetterKey, env.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}

	return q.SetStatus(ctx, env.ID, model.JobDeadLettered)
}

// ListDeadLetters returns dead-lettered envelopes, optionally filtered
// by partition
func (q *RedisJobQueue) ListDeadLetters(ctx context.Context, partitionID string, limit int) ([]*model.JobEnvelope, error) {
	all, err := q.client.HGetAll(ctx, deadLetterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	envelopes := make([]*model.JobEnvelope, 0, len(all))
	for _, raw := range all {
		var env model.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.logger.Warn("Skipping malformed dead letter", zap.Error(err))
			continue
		}
		if partitionID != "" && env.PartitionID != partitionID {
			continue
		}
		envelopes = append(envelopes, &env)
		if limit > 0 && len(envelopes) >= limit {
			break
		}
	}

	return envelopes, nil
}

// ReplayDeadLetter re-enqueues a dead-lettered envelope with a fresh
// attempt budget and removes it from the dead-letter hash.
func (q *RedisJobQueue) ReplayDeadLetter(ctx context.Context, envelopeID string) error {
	raw, err := q.client.HGet(ctx, deadLetterKey, envelopeID).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch dead letter: %w", err)
	}

	var env model.JobEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}

	env.Attempt = 0
	env.LastError = ""
	env.FailureCode = ""
	env.NotBefore = time.Time{}

	if err := q.Enqueue(ctx, &env); err != nil {
		return err
	}

	if err := q.client.HDel(ctx, deadLetterKey, envelopeID).Err(); err != nil {
		return fmt.Errorf("failed to remove replayed dead letter: %w", err)
	}

	q.logger.Info("Replayed dead letter",
		zap.String("envelope_id", envelopeID),
		zap.String("partition_id", env.PartitionID))

	return nil
}

// RequestCancel marks an envelope for cooperative cancellation
func (q *RedisJobQueue) RequestCancel(ctx context.Context, envelopeID string) error {
	return q.client.Set(ctx, cancelPrefix+envelopeID, "1", cancelTTL).Err()
}

// CancelRequested reports whether cancellation was requested
func (q *RedisJobQueue) CancelRequested(ctx context.Context, envelopeID string) (bool, error) {
	_, err := q.client.Get(ctx, cancelPrefix+envelopeID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus records the envelope's queue status for inspection
func (q *RedisJobQueue) SetStatus(ctx context.Context, envelopeID string, status model.JobStatus) error {
	return q.client.Set(ctx, statusPrefix+envelopeID, string(status), statusTTL).Err()
}

// Ping checks the Redis connection
func (q *RedisJobQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

var _ JobQueue = (*RedisJobQueue)(nil)
