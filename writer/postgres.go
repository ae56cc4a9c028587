// Package writer persists normalized records into Postgres. Every
// batch lands through a temp-table copy followed by an upsert, so
// re-ingesting the same intervals is always safe, and the series
// watermark advances in the same transaction as its rows.
package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"powerflow/config"
	"powerflow/logger"
)

// PersistenceError wraps any database failure so callers can tell
// storage trouble apart from source or data trouble.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is (or wraps) a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsConstraintViolation reports whether the underlying database error
// is an integrity-constraint rejection, e.g. an unknown node slipping
// past normalization into the hub check.
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store is the Postgres-backed record sink.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Entry
}

// Connect opens the pool and verifies the server is reachable.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, persistenceErr("parse_dsn", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, persistenceErr("connect", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, persistenceErr("ping", err)
	}

	return &Store{pool: pool, log: logger.GetLogger().WithComponent("writer")}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// uniqueTableName builds a session-unique temp table name. Dashes are
// stripped because they are not valid in identifiers.
func uniqueTableName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("batch_%s_%s", prefix, suffix)
}
