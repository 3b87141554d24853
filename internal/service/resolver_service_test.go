package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func activePartition(id string) *model.Partition {
	now := time.Now()
	return &model.Partition{
		PartitionID: id,
		SchemaName:  "tenant_" + id,
		DisplayName: id,
		Status:      model.PartitionActive,
		QuotaTier:   model.TierBasic,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

func newResolver(t *testing.T, directory *MockDirectoryStore) (*ResolverService, *store.InMemoryCache) {
	t.Helper()
	cache := store.NewInMemoryCache(100, zap.NewNop())
	t.Cleanup(func() { cache.Close() })
	resolver := NewResolverService(directory, cache, time.Minute, time.Second, newTestMetrics(), zap.NewNop())
	return resolver, cache
}

func TestResolveRequest_KnownDomain(t *testing.T) {
	directory := new(MockDirectoryStore)
	resolver, _ := newResolver(t, directory)

	partition := activePartition("acme")
	directory.On("ResolveDomain", mock.Anything, "acme.example.com").Return(partition, nil).Once()

	tc, err := resolver.ResolveRequest(context.Background(), "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.PartitionID)
	assert.Equal(t, "tenant_acme", tc.SchemaName)
	assert.Equal(t, model.TierBasic, tc.QuotaTier)
	assert.False(t, tc.ResolvedAt.IsZero())

	// Second resolution is served from cache; the directory is not hit again
	tc2, err := resolver.ResolveRequest(context.Background(), "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, tc.PartitionID, tc2.PartitionID)

	directory.AssertExpectations(t)
}

func TestResolveRequest_UnknownDomain(t *testing.T) {
	directory := new(MockDirectoryStore)
	resolver, _ := newResolver(t, directory)

	directory.On("ResolveDomain", mock.Anything, "nobody.example.com").Return(nil, store.ErrNotFound).Once()

	_, err := resolver.ResolveRequest(context.Background(), "nobody.example.com")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTenant)

	// The miss is negatively cached: a repeat lookup inside the negative
	// TTL must not hit the directory again
	_, err = resolver.ResolveRequest(context.Background(), "nobody.example.com")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTenant)

	directory.AssertExpectations(t)
}

func TestResolveRequest_SuspendedTenant(t *testing.T) {
	directory := new(MockDirectoryStore)
	resolver, _ := newResolver(t, directory)

	partition := activePartition("acme")
	partition.Status = model.PartitionSuspended
	directory.On("ResolveDomain", mock.Anything, "acme.example.com").Return(partition, nil)

	_, err := resolver.ResolveRequest(context.Background(), "acme.example.com")
	assert.ErrorIs(t, err, apperrors.ErrTenantSuspended)
	assert.NotErrorIs(t, err, apperrors.ErrUnknownTenant)
}

func TestResolveRequest_DirectoryFailure(t *testing.T) {
	directory := new(MockDirectoryStore)
	resolver, _ := newResolver(t, directory)

	directory.On("ResolveDomain", mock.Anything, "acme.example.com").Return(nil, errors.New("connection refused"))

	_, err := resolver.ResolveRequest(context.Background(), "acme.example.com")
	require.Error(t, err)
	// Infrastructure failures are not tenant rejections
	assert.NotErrorIs(t, err, apperrors.ErrUnknownTenant)
}

func TestResolveRequest_StatusChangeVisibleAfterInvalidation(t *testing.T) {
	directory := new(MockDirectoryStore)
	cache := store.NewInMemoryCache(100, zap.NewNop())
	t.Cleanup(func() { cache.Close() })
	resolver := NewResolverService(directory, cache, time.Minute, time.Second, newTestMetrics(), zap.NewNop())
	directorySvc := NewDirectoryService(directory, cache, zap.NewNop())

	partition := activePartition("acme")
	directory.On("ResolveDomain", mock.Anything, "acme.example.com").Return(partition, nil).Once()

	_, err := resolver.ResolveRequest(context.Background(), "acme.example.com")
	require.NoError(t, err)

	// Suspend: the partition record is invalidated and the next lookup
	// refetches it with the new status
	suspended := activePartition("acme")
	suspended.Status = model.PartitionSuspended
	directory.On("SetStatus", mock.Anything, "acme", model.PartitionSuspended).Return(nil).Once()
	directory.On("GetPartition", mock.Anything, "acme").Return(suspended, nil).Once()

	require.NoError(t, directorySvc.SetStatus(context.Background(), "acme", model.PartitionSuspended))

	_, err = resolver.ResolveRequest(context.Background(), "acme.example.com")
	assert.ErrorIs(t, err, apperrors.ErrTenantSuspended)

	directory.AssertExpectations(t)
}
