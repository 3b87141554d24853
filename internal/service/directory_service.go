package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"go.uber.org/zap"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,62}$`)

// DirectoryService manages the partition directory: registration,
// status transitions and the fan-out listing used by the scheduler.
// This is the only component that mutates state outside a TenantContext.
type DirectoryService struct {
	directory store.DirectoryStore
	cache     store.Cache
	logger    *zap.Logger
}

// NewDirectoryService creates a new directory service
func NewDirectoryService(directory store.DirectoryStore, cache store.Cache, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{
		directory: directory,
		cache:     cache,
		logger:    logger,
	}
}

// Register creates a new tenant partition with its first routing key.
// Schema materialization and directory insertion are one transaction:
// concurrent registrations of the same routing key serialize, the
// second fails with DuplicateRoutingKey.
func (s *DirectoryService) Register(ctx context.Context, slug, displayName string, domains []string, tier model.QuotaTier) (*model.Partition, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid partition slug %q: must be lowercase alphanumeric", slug)
	}
	if len(domains) == 0 {
		return nil, apperrors.New("at least one routing key is required")
	}
	if tier == "" {
		tier = model.TierFree
	}
	if !model.ValidQuotaTier(tier) {
		return nil, fmt.Errorf("invalid quota tier %q", tier)
	}

	now := time.Now()
	partition := &model.Partition{
		PartitionID: slug,
		SchemaName:  schemaName(slug),
		DisplayName: displayName,
		Status:      model.PartitionProvisioning,
		QuotaTier:   tier,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := s.directory.RegisterPartition(ctx, partition, domains); err != nil {
		return nil, err
	}

	return partition, nil
}

// GetPartition retrieves a partition by id
func (s *DirectoryService) GetPartition(ctx context.Context, partitionID string) (*model.Partition, error) {
	partition, err := s.directory.GetPartition(ctx, partitionID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, partitionID)
		}
		return nil, err
	}
	return partition, nil
}

// SetStatus transitions a partition's status and invalidates the
// resolver's cached record so the change takes effect immediately.
// Decommissioned is terminal and the transition is rejected downstream.
func (s *DirectoryService) SetStatus(ctx context.Context, partitionID string, status model.PartitionStatus) error {
	switch status {
	case model.PartitionActive, model.PartitionSuspended, model.PartitionDecommissioned:
	default:
		return fmt.Errorf("invalid status transition target %q", status)
	}

	if err := s.directory.SetStatus(ctx, partitionID, status); err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, partitionCacheKey(partitionID)); err != nil {
		s.logger.Warn("Failed to invalidate partition cache",
			zap.String("partition_id", partitionID),
			zap.Error(err))
	}

	return nil
}

// AddDomain attaches an additional routing key to a partition
func (s *DirectoryService) AddDomain(ctx context.Context, partitionID, domain string, primary bool) error {
	if _, err := s.GetPartition(ctx, partitionID); err != nil {
		return err
	}
	return s.directory.AddDomain(ctx, partitionID, domain, primary)
}

// ListActivePartitions returns all partitions jobs may target
func (s *DirectoryService) ListActivePartitions(ctx context.Context) ([]*model.Partition, error) {
	return s.directory.ListPartitions(ctx, model.PartitionActive)
}

// schemaName derives the Postgres schema for a partition slug
func schemaName(slug string) string {
	return "tenant_" + strings.ReplaceAll(slug, "-", "_")
}
