package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/model"
)

type stubSession struct {
	released bool
}

func (s *stubSession) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 0, nil
}

func (s *stubSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (s *stubSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (s *stubSession) Release(ctx context.Context) {
	s.released = true
}

type stubPool struct {
	acquired   []string
	sessions   []*stubSession
	acquireErr error
}

func (p *stubPool) Acquire(ctx context.Context, schemaName string) (Session, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired = append(p.acquired, schemaName)
	sess := &stubSession{}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

func testTenant(id string) *model.TenantContext {
	return &model.TenantContext{
		PartitionID: id,
		SchemaName:  "tenant_" + id,
		QuotaTier:   model.TierBasic,
	}
}

func TestWithContext_EstablishesScope(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	var scope *Scope
	err := g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
		var err error
		scope, err = FromContext(ctx)
		return err
	})
	require.NoError(t, err)

	require.NotNil(t, scope)
	assert.Equal(t, "acme", scope.Tenant.PartitionID)
	assert.Equal(t, []string{"tenant_acme"}, pool.acquired)
	require.Len(t, pool.sessions, 1)
	assert.True(t, pool.sessions[0].released)
}

func TestWithContext_NestingForbidden(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	err := g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
		// Attempting a second scope inside an active one, even for the
		// same partition, is a caller bug
		return g.WithContext(ctx, testTenant("acme"), func(ctx context.Context) error {
			return nil
		})
	})
	assert.ErrorIs(t, err, apperrors.ErrContextAlreadyActive)
	// Only the outer scope acquired a session
	assert.Len(t, pool.acquired, 1)
}

func TestFromContext_OutsideScope(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoActiveContext)

	_, err = TenantFromContext(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoActiveContext)
}

func TestWithContext_ReleasesOnError(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	wantErr := errors.New("query failed")
	err := g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, pool.sessions[0].released)
}

func TestWithContext_ReleasesOnPanic(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	assert.Panics(t, func() {
		_ = g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
			panic("handler blew up")
		})
	})
	assert.True(t, pool.sessions[0].released)
}

func TestWithContext_AcquireFailure(t *testing.T) {
	pool := &stubPool{acquireErr: errors.New("pool exhausted")}
	g := NewGateway(pool, zap.NewNop())

	called := false
	err := g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)

	// An unreachable or exhausted pool is retryable, unlike a failure
	// of the unit of work itself
	assert.True(t, apperrors.IsTransient(err))
}

func TestWithContext_CallbackErrorNotTransient(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	err := g.WithContext(context.Background(), testTenant("acme"), func(ctx context.Context) error {
		return errors.New("malformed payload")
	})
	require.Error(t, err)
	assert.False(t, apperrors.IsTransient(err))
}

func TestWithContext_NilTenant(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	err := g.WithContext(context.Background(), nil, func(ctx context.Context) error {
		t.Fatal("callback must not run without a tenant")
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrNoActiveContext)
	assert.Empty(t, pool.acquired)
}

func TestWithContext_ScopeNotVisibleOutside(t *testing.T) {
	pool := &stubPool{}
	g := NewGateway(pool, zap.NewNop())

	ctx := context.Background()
	err := g.WithContext(ctx, testTenant("acme"), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// The original context is untouched once the callback returns
	_, err = FromContext(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoActiveContext)
}
