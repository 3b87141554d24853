package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/M-Moiz598/tenantgate/internal/model"
)

// newTestDirectoryStore connects to the database named by
// TENANTGATE_TEST_DATABASE_URL, or skips the test when it is unset.
func newTestDirectoryStore(t *testing.T) *PostgresDirectoryStore {
	t.Helper()

	dsn := os.Getenv("TENANTGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TENANTGATE_TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := &PostgresDirectoryStore{pool: pool, logger: zap.NewNop()}
	require.NoError(t, s.migrate(context.Background()))
	return s
}

func testPartition(id, schema string) *model.Partition {
	now := time.Now()
	return &model.Partition{
		PartitionID: id,
		SchemaName:  schema,
		DisplayName: "Test Tenant",
		QuotaTier:   model.TierFree,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

func TestRegisterPartition_RollsBackOnSchemaFailure(t *testing.T) {
	s := newTestDirectoryStore(t)
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	partitionID := "clash-" + suffix
	schema := "tenant_clash_" + suffix
	domain := "clash-" + suffix + ".example.com"

	// Occupy the schema name so CREATE SCHEMA fails after the directory
	// rows were inserted inside the registration transaction
	_, err := s.pool.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM partition_domains WHERE partition_id = $1", partitionID)
		s.pool.Exec(ctx, "DELETE FROM partitions WHERE partition_id = $1", partitionID)
		s.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
	})

	err = s.RegisterPartition(ctx, testPartition(partitionID, schema), []string{domain})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to create schema")

	// Nothing of the failed registration is observable: no directory row
	// that would make the partition routable, no routing key
	var count int
	require.NoError(t, s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM partitions WHERE partition_id = $1", partitionID).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM partition_domains WHERE domain = $1", domain).Scan(&count))
	assert.Zero(t, count)

	// The rolled-back routing key stays free: a later registration with a
	// non-conflicting schema succeeds and activates
	retrySchema := "tenant_retry_" + suffix
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{retrySchema}.Sanitize()+" CASCADE")
	})

	retry := testPartition(partitionID, retrySchema)
	require.NoError(t, s.RegisterPartition(ctx, retry, []string{domain}))
	assert.Equal(t, model.PartitionActive, retry.Status)

	var schemaCount int
	require.NoError(t, s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = $1", retrySchema).Scan(&schemaCount))
	assert.Equal(t, 1, schemaCount)
}
