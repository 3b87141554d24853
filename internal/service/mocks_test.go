package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"github.com/jackc/pgx/v5"
)

// MockDirectoryStore is a mock implementation of store.DirectoryStore
type MockDirectoryStore struct {
	mock.Mock
}

func (m *MockDirectoryStore) ResolveDomain(ctx context.Context, domain string) (*model.Partition, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Partition), args.Error(1)
}

func (m *MockDirectoryStore) GetPartition(ctx context.Context, partitionID string) (*model.Partition, error) {
	args := m.Called(ctx, partitionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Partition), args.Error(1)
}

func (m *MockDirectoryStore) RegisterPartition(ctx context.Context, partition *model.Partition, domains []string) error {
	args := m.Called(ctx, partition, domains)
	return args.Error(0)
}

func (m *MockDirectoryStore) SetStatus(ctx context.Context, partitionID string, status model.PartitionStatus) error {
	args := m.Called(ctx, partitionID, status)
	return args.Error(0)
}

func (m *MockDirectoryStore) ListPartitions(ctx context.Context, status model.PartitionStatus) ([]*model.Partition, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Partition), args.Error(1)
}

func (m *MockDirectoryStore) AddDomain(ctx context.Context, partitionID, domain string, primary bool) error {
	args := m.Called(ctx, partitionID, domain, primary)
	return args.Error(0)
}

func (m *MockDirectoryStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDirectoryStore) Close() {
	m.Called()
}

// MockJobQueue is a mock implementation of store.JobQueue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, env *model.JobEnvelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockJobQueue) Claim(ctx context.Context, consumer string, block time.Duration) (*store.ClaimedJob, error) {
	args := m.Called(ctx, consumer, block)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.ClaimedJob), args.Error(1)
}

func (m *MockJobQueue) Ack(ctx context.Context, ackID string) error {
	args := m.Called(ctx, ackID)
	return args.Error(0)
}

func (m *MockJobQueue) ScheduleRetry(ctx context.Context, env *model.JobEnvelope, at time.Time) error {
	args := m.Called(ctx, env, at)
	return args.Error(0)
}

func (m *MockJobQueue) MoveDue(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(ctx, now, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockJobQueue) DeadLetter(ctx context.Context, env *model.JobEnvelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockJobQueue) ListDeadLetters(ctx context.Context, partitionID string, limit int) ([]*model.JobEnvelope, error) {
	args := m.Called(ctx, partitionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.JobEnvelope), args.Error(1)
}

func (m *MockJobQueue) ReplayDeadLetter(ctx context.Context, envelopeID string) error {
	args := m.Called(ctx, envelopeID)
	return args.Error(0)
}

func (m *MockJobQueue) RequestCancel(ctx context.Context, envelopeID string) error {
	args := m.Called(ctx, envelopeID)
	return args.Error(0)
}

func (m *MockJobQueue) CancelRequested(ctx context.Context, envelopeID string) (bool, error) {
	args := m.Called(ctx, envelopeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) SetStatus(ctx context.Context, envelopeID string, status model.JobStatus) error {
	args := m.Called(ctx, envelopeID, status)
	return args.Error(0)
}

func (m *MockJobQueue) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockJobQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeSession is a no-op session; dispatcher tests exercise scope
// establishment, not SQL.
type fakeSession struct {
	released bool
}

func (s *fakeSession) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 0, nil
}

func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (s *fakeSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (s *fakeSession) Release(ctx context.Context) {
	s.released = true
}

// fakeSessionPool hands out fakeSessions and records acquired schemas.
type fakeSessionPool struct {
	acquired   []string
	sessions   []*fakeSession
	acquireErr error
}

func (p *fakeSessionPool) Acquire(ctx context.Context, schemaName string) (gateway.Session, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired = append(p.acquired, schemaName)
	sess := &fakeSession{}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}
