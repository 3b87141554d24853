// Package gateway confines every data operation to exactly one tenant
// partition. A scope is established with WithContext for the lifetime
// of a request or job execution; data access code reaches storage only
// through the session carried in the context, so nothing can read or
// write without an active, unambiguous partition binding.
package gateway

import (
	"context"
	"fmt"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Session is a storage connection pinned to one partition's schema.
// Release must restore the connection to an unscoped state before it
// can be reused; implementations discard the connection if they cannot.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release(ctx context.Context)
}

// SessionPool hands out sessions pinned to a schema.
type SessionPool interface {
	Acquire(ctx context.Context, schemaName string) (Session, error)
}

// Scope is the active binding of an execution unit to one partition.
type Scope struct {
	Session Session
	Tenant  *model.TenantContext
}

type scopeKey struct{}

// Gateway establishes and tears down partition scopes.
type Gateway struct {
	pool   SessionPool
	logger *zap.Logger
}

// NewGateway creates a new scoped access gateway.
func NewGateway(pool SessionPool, logger *zap.Logger) *Gateway {
	return &Gateway{
		pool:   pool,
		logger: logger,
	}
}

// WithContext runs fn with every data operation confined to the tenant's
// partition. The scope is torn down on every exit path, including panics
// propagating out of fn.
//
// Nesting is forbidden: establishing a scope on a context that already
// carries one fails with ErrContextAlreadyActive. That is a programming
// error in the caller and is surfaced, never recovered into a fallback.
func (g *Gateway) WithContext(ctx context.Context, tc *model.TenantContext, fn func(ctx context.Context) error) error {
	if tc == nil {
		return apperrors.ErrNoActiveContext
	}
	if _, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return fmt.Errorf("%w: partition %s", apperrors.ErrContextAlreadyActive, tc.PartitionID)
	}

	// Acquire failure is an infrastructure fault, not a failure of the
	// unit of work; it is marked transient so job retries apply.
	sess, err := g.pool.Acquire(ctx, tc.SchemaName)
	if err != nil {
		return apperrors.Transient(fmt.Errorf("failed to acquire partition session: %w", err))
	}
	defer sess.Release(ctx)

	g.logger.Debug("Partition scope established",
		zap.String("partition_id", tc.PartitionID),
		zap.String("schema", tc.SchemaName))

	scoped := context.WithValue(ctx, scopeKey{}, &Scope{Session: sess, Tenant: tc})
	return fn(scoped)
}

// FromContext returns the active scope. Data access attempted outside
// WithContext fails with ErrNoActiveContext rather than silently
// defaulting to any partition.
func FromContext(ctx context.Context) (*Scope, error) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok {
		return nil, apperrors.ErrNoActiveContext
	}
	return scope, nil
}

// TenantFromContext returns the TenantContext of the active scope.
func TenantFromContext(ctx context.Context) (*model.TenantContext, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return scope.Tenant, nil
}
