package model

import "time"

// PartitionStatus represents the lifecycle state of a tenant partition
type PartitionStatus string

const (
	// PartitionProvisioning indicates a partition whose schema is being materialized
	PartitionProvisioning PartitionStatus = "provisioning"
	// PartitionActive indicates a fully routable partition
	PartitionActive PartitionStatus = "active"
	// PartitionSuspended indicates a partition blocked by quota or billing
	PartitionSuspended PartitionStatus = "suspended"
	// PartitionDecommissioned is terminal; no routing key resolves to it again
	PartitionDecommissioned PartitionStatus = "decommissioned"
)

// QuotaTier represents the subscription plan of a partition
type QuotaTier string

const (
	TierFree         QuotaTier = "free"
	TierBasic        QuotaTier = "basic"
	TierProfessional QuotaTier = "professional"
	TierEnterprise   QuotaTier = "enterprise"
)

// ValidQuotaTier reports whether tier is a known subscription plan
func ValidQuotaTier(tier QuotaTier) bool {
	switch tier {
	case TierFree, TierBasic, TierProfessional, TierEnterprise:
		return true
	default:
		return false
	}
}

// Partition represents one tenant's isolated data area and its directory entry
type Partition struct {
	PartitionID string
	SchemaName  string
	DisplayName string
	Status      PartitionStatus
	QuotaTier   QuotaTier
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64 // For optimistic locking
}

// Domain maps a routing key (host name) to a partition
type Domain struct {
	Domain      string
	PartitionID string
	IsPrimary   bool
}

// TenantContext is the ephemeral binding of one execution unit to one
// partition. It exists for the duration of a single request or job
// execution and is never persisted or shared between goroutines.
type TenantContext struct {
	PartitionID string
	SchemaName  string
	QuotaTier   QuotaTier
	ResolvedAt  time.Time
}
