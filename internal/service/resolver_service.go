package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"go.uber.org/zap"
)

// negativeMarker is cached for routing keys that resolved to nothing.
// Short TTL so freshly registered tenants become routable promptly.
type negativeMarker struct{}

// ResolverService maps inbound routing keys to TenantContexts. It is
// the sole consumer of the routing input and fails closed: an
// unresolved key is a rejection, never a fallback partition.
type ResolverService struct {
	directory   store.DirectoryStore
	cache       store.Cache
	positiveTTL time.Duration
	negativeTTL time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewResolverService creates a new context resolver
func NewResolverService(
	directory store.DirectoryStore,
	cache store.Cache,
	positiveTTL, negativeTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ResolverService {
	return &ResolverService{
		directory:   directory,
		cache:       cache,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		metrics:     m,
		logger:      logger,
	}
}

// ResolveRequest resolves a routing key to a TenantContext. Fails with
// UnknownTenant when the directory has no entry and TenantSuspended
// when the partition is not active.
func (s *ResolverService) ResolveRequest(ctx context.Context, routingKey string) (*model.TenantContext, error) {
	partition, err := s.lookupPartition(ctx, routingKey)
	if err != nil {
		return nil, err
	}

	if partition.Status != model.PartitionActive {
		s.metrics.ResolutionsTotal.WithLabelValues("suspended").Inc()
		return nil, fmt.Errorf("%w: partition %s is %s",
			apperrors.ErrTenantSuspended, partition.PartitionID, partition.Status)
	}

	s.metrics.ResolutionsTotal.WithLabelValues("ok").Inc()

	return &model.TenantContext{
		PartitionID: partition.PartitionID,
		SchemaName:  partition.SchemaName,
		QuotaTier:   partition.QuotaTier,
		ResolvedAt:  time.Now(),
	}, nil
}

func (s *ResolverService) lookupPartition(ctx context.Context, routingKey string) (*model.Partition, error) {
	cacheKey := domainCacheKey(routingKey)

	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if _, ok := cached.(negativeMarker); ok {
			s.metrics.ResolverCacheHits.WithLabelValues("negative").Inc()
			s.metrics.ResolutionsTotal.WithLabelValues("unknown").Inc()
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, routingKey)
		}
		if partitionID, ok := cached.(string); ok {
			if partition, err := s.cachedPartition(ctx, partitionID); err == nil {
				s.metrics.ResolverCacheHits.WithLabelValues("positive").Inc()
				return partition, nil
			}
		}
	}

	s.metrics.ResolverCacheMisses.Inc()
	s.logger.Debug("Cache miss for routing key, fetching from directory",
		zap.String("routing_key", routingKey))

	partition, err := s.directory.ResolveDomain(ctx, routingKey)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			if cerr := s.cache.Set(ctx, cacheKey, negativeMarker{}, s.negativeTTL); cerr != nil {
				s.logger.Warn("Failed to cache negative resolution", zap.Error(cerr))
			}
			s.metrics.ResolutionsTotal.WithLabelValues("unknown").Inc()
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, routingKey)
		}
		return nil, fmt.Errorf("failed to resolve routing key: %w", err)
	}

	// The domain to partition mapping and the partition record are cached
	// separately: the mapping is stable, the record carries status and is
	// invalidated on SetStatus.
	if err := s.cache.Set(ctx, cacheKey, partition.PartitionID, s.positiveTTL); err != nil {
		s.logger.Warn("Failed to cache routing key", zap.Error(err))
	}
	if err := s.cache.Set(ctx, partitionCacheKey(partition.PartitionID), partition, s.positiveTTL); err != nil {
		s.logger.Warn("Failed to cache partition", zap.Error(err))
	}

	return partition, nil
}

func (s *ResolverService) cachedPartition(ctx context.Context, partitionID string) (*model.Partition, error) {
	cached, err := s.cache.Get(ctx, partitionCacheKey(partitionID))
	if err == nil {
		if partition, ok := cached.(*model.Partition); ok {
			return partition, nil
		}
	}

	partition, err := s.directory.GetPartition(ctx, partitionID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, partitionCacheKey(partitionID), partition, s.positiveTTL); err != nil {
		s.logger.Warn("Failed to cache partition", zap.Error(err))
	}

	return partition, nil
}

func domainCacheKey(routingKey string) string {
	return fmt.Sprintf("resolve:domain:%s", routingKey)
}

func partitionCacheKey(partitionID string) string {
	return fmt.Sprintf("resolve:partition:%s", partitionID)
}
