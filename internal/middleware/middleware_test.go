package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

// stubDirectory serves a fixed domain table.
type stubDirectory struct {
	partitions map[string]*model.Partition
}

func (s *stubDirectory) ResolveDomain(ctx context.Context, domain string) (*model.Partition, error) {
	p, ok := s.partitions[domain]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (s *stubDirectory) GetPartition(ctx context.Context, partitionID string) (*model.Partition, error) {
	for _, p := range s.partitions {
		if p.PartitionID == partitionID {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubDirectory) RegisterPartition(ctx context.Context, partition *model.Partition, domains []string) error {
	return nil
}

func (s *stubDirectory) SetStatus(ctx context.Context, partitionID string, status model.PartitionStatus) error {
	return nil
}

func (s *stubDirectory) ListPartitions(ctx context.Context, status model.PartitionStatus) ([]*model.Partition, error) {
	return nil, nil
}

func (s *stubDirectory) AddDomain(ctx context.Context, partitionID, domain string, primary bool) error {
	return nil
}

func (s *stubDirectory) Ping(ctx context.Context) error { return nil }
func (s *stubDirectory) Close()                         {}

func newResolverMiddleware(t *testing.T, partitions map[string]*model.Partition) *TenantResolver {
	t.Helper()
	cache := store.NewInMemoryCache(100, zap.NewNop())
	t.Cleanup(func() { cache.Close() })
	resolver := service.NewResolverService(
		&stubDirectory{partitions: partitions},
		cache,
		time.Minute,
		time.Second,
		metrics.NewMetrics(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	return NewTenantResolver(resolver, apperrors.NewHandler(zap.NewNop()), zap.NewNop())
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Request-ID")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservedWhenPresent(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1, zap.NewNop())
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRoutingKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "Acme.Example.com:8443"
	assert.Equal(t, "acme.example.com", RoutingKey(req))

	req.Header.Set("X-Tenant-Domain", "Override.Example.com")
	assert.Equal(t, "override.example.com", RoutingKey(req))
}

func TestTenantResolver_KnownTenant(t *testing.T) {
	tr := newResolverMiddleware(t, map[string]*model.Partition{
		"acme.example.com": {
			PartitionID: "acme",
			SchemaName:  "tenant_acme",
			Status:      model.PartitionActive,
			QuotaTier:   model.TierBasic,
		},
	})

	var resolved *model.TenantContext
	h := tr.Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved = TenantFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Host = "acme.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resolved)
	assert.Equal(t, "acme", resolved.PartitionID)
}

func TestTenantResolver_UnknownTenantRejected(t *testing.T) {
	tr := newResolverMiddleware(t, map[string]*model.Partition{})

	handlerCalled := false
	h := tr.Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Host = "ghost.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, handlerCalled)
	assert.Contains(t, rec.Body.String(), "TENANT_NOT_FOUND")
}

func TestTenantResolver_SuspendedTenantRejected(t *testing.T) {
	tr := newResolverMiddleware(t, map[string]*model.Partition{
		"acme.example.com": {
			PartitionID: "acme",
			SchemaName:  "tenant_acme",
			Status:      model.PartitionSuspended,
			QuotaTier:   model.TierBasic,
		},
	})

	h := tr.Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Host = "acme.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_SUSPENDED")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
