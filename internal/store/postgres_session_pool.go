package store

import (
	"context"
	"fmt"

	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSessionPool hands out pooled connections pinned to a tenant
// schema via search_path. It implements gateway.SessionPool.
type PostgresSessionPool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSessionPool creates a session pool over an existing
// connection pool (shared with the directory store).
func NewPostgresSessionPool(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSessionPool {
	return &PostgresSessionPool{
		pool:   pool,
		logger: logger,
	}
}

// Acquire pins a pooled connection to the given schema. The returned
// session owns the connection until Release.
func (p *PostgresSessionPool) Acquire(ctx context.Context, schemaName string) (gateway.Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	schema := pgx.Identifier{schemaName}.Sanitize()
	if _, err := conn.Exec(ctx, "SET search_path TO "+schema); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to pin search_path: %w", err)
	}

	return &postgresSession{
		conn:   conn,
		schema: schemaName,
		logger: p.logger,
	}, nil
}

// postgresSession is one connection confined to one partition schema.
type postgresSession struct {
	conn   *pgxpool.Conn
	schema string
	logger *zap.Logger
}

func (s *postgresSession) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *postgresSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *postgresSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

// Release resets the search_path and returns the connection to the
// pool. If the reset fails, the connection is destroyed instead of
// being returned: a pooled connection must never carry a stale
// partition binding into its next checkout.
func (s *postgresSession) Release(ctx context.Context) {
	if _, err := s.conn.Exec(ctx, "RESET search_path"); err != nil {
		s.logger.Warn("Failed to reset search_path, discarding connection",
			zap.String("schema", s.schema),
			zap.Error(err))
		if cerr := s.conn.Conn().Close(ctx); cerr != nil {
			s.logger.Warn("Failed to close tainted connection", zap.Error(cerr))
		}
	}
	s.conn.Release()
}

var _ gateway.SessionPool = (*PostgresSessionPool)(nil)
