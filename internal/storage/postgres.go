package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"notice-engine/internal/config"
)

//go:embed schema.sql
var schema string

// Store owns the Postgres pool. Repositories work over the database/sql view
// of the same pool; the pool itself is used for LISTEN.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// DB is the database/sql handle the repositories run on.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the tables and the change-notification triggers if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.PgxPool().Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// NotifyChannel is the channel the schema's change triggers notify on.
const NotifyChannel = "cn_data_change"

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
