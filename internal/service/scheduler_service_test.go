package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/M-Moiz598/tenantgate/internal/model"
)

func newScheduler(t *testing.T, entries []model.ScheduleEntry, directory *MockDirectoryStore, queue *MockJobQueue, clk clock.Clock) *SchedulerService {
	t.Helper()
	d, _ := newDispatcher(queue, directory)
	s, err := NewSchedulerService(entries, directory, d, clk, time.Second, newTestMetrics(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestScheduler_FansOutOverActivePartitions(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	clk := clock.NewMock()

	entries := []model.ScheduleEntry{{
		JobKind: "check_overdue",
		Every:   time.Hour,
		Target:  model.ScheduleTargetAll,
		Payload: json.RawMessage(`{}`),
	}}
	s := newScheduler(t, entries, directory, queue, clk)

	partitions := []*model.Partition{
		activePartition("acme"),
		activePartition("globex"),
		activePartition("initech"),
	}
	directory.On("ListPartitions", mock.Anything, model.PartitionActive).Return(partitions, nil)

	var enqueued []*model.JobEnvelope
	queue.On("Enqueue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		enqueued = append(enqueued, args.Get(1).(*model.JobEnvelope))
	}).Return(nil)

	require.NoError(t, s.Tick(context.Background(), clk.Now().Add(2*time.Hour)))

	require.Len(t, enqueued, 3)
	seen := map[string]bool{}
	for _, env := range enqueued {
		assert.Equal(t, "check_overdue", env.Kind)
		seen[env.PartitionID] = true
	}
	assert.Equal(t, map[string]bool{"acme": true, "globex": true, "initech": true}, seen)
}

func TestScheduler_NewPartitionPickedUpNextFire(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	clk := clock.NewMock()

	entries := []model.ScheduleEntry{{
		JobKind: "check_overdue",
		Every:   time.Hour,
		Target:  model.ScheduleTargetAll,
	}}
	s := newScheduler(t, entries, directory, queue, clk)

	first := []*model.Partition{activePartition("acme")}
	second := []*model.Partition{activePartition("acme"), activePartition("globex")}
	directory.On("ListPartitions", mock.Anything, model.PartitionActive).Return(first, nil).Once()
	directory.On("ListPartitions", mock.Anything, model.PartitionActive).Return(second, nil).Once()

	var enqueued []*model.JobEnvelope
	queue.On("Enqueue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		enqueued = append(enqueued, args.Get(1).(*model.JobEnvelope))
	}).Return(nil)

	now := clk.Now()
	require.NoError(t, s.Tick(context.Background(), now.Add(time.Hour)))
	require.NoError(t, s.Tick(context.Background(), now.Add(2*time.Hour)))

	// Targets are resolved at fire time: the partition registered between
	// fires receives the second round
	require.Len(t, enqueued, 3)
	assert.Equal(t, "globex", enqueued[2].PartitionID)
}

func TestScheduler_NotDueDoesNotFire(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	clk := clock.NewMock()

	entries := []model.ScheduleEntry{{
		JobKind: "check_overdue",
		Every:   time.Hour,
		Target:  model.ScheduleTargetAll,
	}}
	s := newScheduler(t, entries, directory, queue, clk)

	require.NoError(t, s.Tick(context.Background(), clk.Now().Add(time.Minute)))
	directory.AssertNotCalled(t, "ListPartitions", mock.Anything, mock.Anything)
}

func TestScheduler_PerPartitionFailureDoesNotBlockOthers(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	clk := clock.NewMock()

	entries := []model.ScheduleEntry{{
		JobKind: "cleanup_old_data",
		Every:   time.Hour,
		Target:  model.ScheduleTargetAll,
	}}
	s := newScheduler(t, entries, directory, queue, clk)

	partitions := []*model.Partition{
		activePartition("acme"),
		activePartition("globex"),
	}
	directory.On("ListPartitions", mock.Anything, model.PartitionActive).Return(partitions, nil)

	var enqueued []string
	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(env *model.JobEnvelope) bool {
		return env.PartitionID == "acme"
	})).Return(errors.New("redis down"))
	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(env *model.JobEnvelope) bool {
		return env.PartitionID == "globex"
	})).Run(func(args mock.Arguments) {
		enqueued = append(enqueued, args.Get(1).(*model.JobEnvelope).PartitionID)
	}).Return(nil)

	err := s.Tick(context.Background(), clk.Now().Add(2*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme")

	// The failed partition is reported but the remaining one still fired
	assert.Equal(t, []string{"globex"}, enqueued)
}

func TestScheduler_SpecificTargetSkipsInactive(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	clk := clock.NewMock()

	entries := []model.ScheduleEntry{{
		JobKind: "generate_report",
		Every:   time.Hour,
		Target:  "acme",
	}}
	s := newScheduler(t, entries, directory, queue, clk)

	suspended := activePartition("acme")
	suspended.Status = model.PartitionSuspended
	directory.On("GetPartition", mock.Anything, "acme").Return(suspended, nil)

	require.NoError(t, s.Tick(context.Background(), clk.Now().Add(2*time.Hour)))
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestScheduler_RejectsInvalidConfiguration(t *testing.T) {
	directory := new(MockDirectoryStore)
	queue := new(MockJobQueue)
	d, _ := newDispatcher(queue, directory)

	_, err := NewSchedulerService([]model.ScheduleEntry{{
		JobKind: "check_overdue",
		Cron:    "not a cron",
		Target:  model.ScheduleTargetAll,
	}}, directory, d, clock.NewMock(), time.Second, newTestMetrics(), zap.NewNop())
	assert.Error(t, err)

	_, err = NewSchedulerService([]model.ScheduleEntry{{
		JobKind: "check_overdue",
		Every:   time.Hour,
	}}, directory, d, clock.NewMock(), time.Second, newTestMetrics(), zap.NewNop())
	assert.Error(t, err)

	_, err = NewSchedulerService([]model.ScheduleEntry{{
		JobKind: "check_overdue",
		Target:  model.ScheduleTargetAll,
	}}, directory, d, clock.NewMock(), time.Second, newTestMetrics(), zap.NewNop())
	assert.Error(t, err)
}
