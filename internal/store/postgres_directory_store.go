package store

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres unique_violation
const pgUniqueViolation = "23505"

// PostgresDirectoryStore implements DirectoryStore for PostgreSQL.
// Directory tables live on the default search path; each tenant's data
// lives in its own schema, created atomically with the directory entry.
type PostgresDirectoryStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDirectoryStore creates a new PostgreSQL directory store
func NewPostgresDirectoryStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresDirectoryStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresDirectoryStore{
		pool:   pool,
		logger: logger,
	}

	if err := s.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create directory tables: %w", err)
	}

	return s, nil
}

// GetPool returns the underlying connection pool for shared use
func (s *PostgresDirectoryStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresDirectoryStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS partitions (
			partition_id TEXT PRIMARY KEY,
			schema_name  TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			status       TEXT NOT NULL,
			quota_tier   TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			version      BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS partition_domains (
			domain       TEXT PRIMARY KEY,
			partition_id TEXT NOT NULL REFERENCES partitions(partition_id),
			is_primary   BOOLEAN NOT NULL DEFAULT FALSE
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ResolveDomain maps a routing key to its partition
func (s *PostgresDirectoryStore) ResolveDomain(ctx context.Context, domain string) (*model.Partition, error) {
	query := `
		SELECT p.partition_id, p.schema_name, p.display_name, p.status, p.quota_tier,
		       p.created_at, p.updated_at, p.version
		FROM partitions p
		JOIN partition_domains d ON d.partition_id = p.partition_id
		WHERE d.domain = $1
	`

	partition, err := s.scanPartition(s.pool.QueryRow(ctx, query, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve domain: %w", err)
	}

	return partition, nil
}

// GetPartition retrieves a partition by id
func (s *PostgresDirectoryStore) GetPartition(ctx context.Context, partitionID string) (*model.Partition, error) {
	query := `
		SELECT partition_id, schema_name, display_name, status, quota_tier,
		       created_at, updated_at, version
		FROM partitions
		WHERE partition_id = $1
	`

	partition, err := s.scanPartition(s.pool.QueryRow(ctx, query, partitionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get partition: %w", err)
	}

	return partition, nil
}

// RegisterPartition creates the directory entry, routing keys and tenant
// schema in one serializable transaction. A half-created partition that
// is routable, or a routable entry without a schema, cannot be observed:
// either everything commits or everything rolls back.
func (s *PostgresDirectoryStore) RegisterPartition(ctx context.Context, partition *model.Partition, domains []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertPartition := `
		INSERT INTO partitions (partition_id, schema_name, display_name, status, quota_tier,
		                        created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, insertPartition,
		partition.PartitionID,
		partition.SchemaName,
		partition.DisplayName,
		model.PartitionProvisioning,
		partition.QuotaTier,
		partition.CreatedAt,
		partition.UpdatedAt,
		partition.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert partition: %w", translateUnique(err))
	}

	insertDomain := `
		INSERT INTO partition_domains (domain, partition_id, is_primary)
		VALUES ($1, $2, $3)
	`
	for i, domain := range domains {
		if _, err := tx.Exec(ctx, insertDomain, domain, partition.PartitionID, i == 0); err != nil {
			return fmt.Errorf("failed to insert routing key %q: %w", domain, translateUnique(err))
		}
	}

	// Materialize the isolated data area inside the same transaction
	schema := pgx.Identifier{partition.SchemaName}.Sanitize()
	if _, err := tx.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := tx.Exec(ctx, tenantSchemaDDL(schema)); err != nil {
		return fmt.Errorf("failed to create tenant tables: %w", err)
	}

	activate := `UPDATE partitions SET status = $2, updated_at = NOW() WHERE partition_id = $1`
	if _, err := tx.Exec(ctx, activate, partition.PartitionID, model.PartitionActive); err != nil {
		return fmt.Errorf("failed to activate partition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit registration: %w", translateUnique(err))
	}

	partition.Status = model.PartitionActive

	s.logger.Info("Registered partition",
		zap.String("partition_id", partition.PartitionID),
		zap.String("schema", partition.SchemaName),
		zap.Strings("domains", domains))

	return nil
}

// SetStatus transitions a partition's lifecycle status. Decommissioned
// is terminal: further transitions are rejected.
func (s *PostgresDirectoryStore) SetStatus(ctx context.Context, partitionID string, status model.PartitionStatus) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.PartitionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM partitions WHERE partition_id = $1 FOR UPDATE`,
		partitionID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock partition: %w", err)
	}

	if current == model.PartitionDecommissioned {
		return apperrors.ErrPartitionDecommissioned
	}

	update := `
		UPDATE partitions
		SET status = $2, updated_at = NOW(), version = version + 1
		WHERE partition_id = $1
	`
	if _, err := tx.Exec(ctx, update, partitionID, status); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}

	s.logger.Info("Partition status changed",
		zap.String("partition_id", partitionID),
		zap.String("from", string(current)),
		zap.String("to", string(status)))

	return nil
}

// ListPartitions retrieves all partitions with the given status
func (s *PostgresDirectoryStore) ListPartitions(ctx context.Context, status model.PartitionStatus) ([]*model.Partition, error) {
	query := `
		SELECT partition_id, schema_name, display_name, status, quota_tier,
		       created_at, updated_at, version
		FROM partitions
		WHERE status = $1
		ORDER BY partition_id
	`

	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	partitions := make([]*model.Partition, 0)
	for rows.Next() {
		partition, err := s.scanPartition(rows)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, partition)
	}

	return partitions, rows.Err()
}

// AddDomain attaches an additional routing key to a partition
func (s *PostgresDirectoryStore) AddDomain(ctx context.Context, partitionID, domain string, primary bool) error {
	query := `
		INSERT INTO partition_domains (domain, partition_id, is_primary)
		VALUES ($1, $2, $3)
	`
	if _, err := s.pool.Exec(ctx, query, domain, partitionID, primary); err != nil {
		return fmt.Errorf("failed to add routing key: %w", translateUnique(err))
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresDirectoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresDirectoryStore) Close() {
	s.pool.Close()
}

func (s *PostgresDirectoryStore) scanPartition(row pgx.Row) (*model.Partition, error) {
	var p model.Partition
	err := row.Scan(
		&p.PartitionID,
		&p.SchemaName,
		&p.DisplayName,
		&p.Status,
		&p.QuotaTier,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// translateUnique maps Postgres unique violations to the domain error
// so concurrent registrations with the same routing key serialize into
// one success and one DuplicateRoutingKey failure.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.ErrDuplicateRoutingKey
	}
	return err
}

// tenantSchemaDDL returns the per-tenant tables created inside a freshly
// materialized schema.
func tenantSchemaDDL(schema string) string {
	return fmt.Sprintf(`
		CREATE TABLE %[1]s.projects (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			owner_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE %[1]s.tasks (
			id             BIGSERIAL PRIMARY KEY,
			project_id     BIGINT NOT NULL REFERENCES %[1]s.projects(id),
			title          TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'todo',
			priority       TEXT NOT NULL DEFAULT 'medium',
			assignee_email TEXT NOT NULL DEFAULT '',
			due_date       TIMESTAMPTZ,
			completed_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, schema)
}

var _ DirectoryStore = (*PostgresDirectoryStore)(nil)
