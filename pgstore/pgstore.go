// Package pgstore is the persistence facade (C9): it owns the Postgres
// connection pool that every mutating operation on the ledger, escrow,
// job/order state machines, and the property pipeline runs its
// transaction on, and defines the per-call timeout constants. It does
// not begin transactions itself; each of those packages opens its own
// on the pool. It is grounded on
// channeldb/db.go's Open/migration shape, ported from bolt buckets to
// SQL migrations driven by golang-migrate.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "pgstore")

// Per-call timeouts, per spec §5: point lookups are cheap key reads,
// queries are typical list/detail reads, aggregations are reporting
// scans that may touch many rows.
const (
	PointLookupTimeout = 2 * time.Second
	QueryTimeout       = 5 * time.Second
	AggregationTimeout = 30 * time.Second
)

// Store wraps a pgx connection pool used for all application queries.
// Schema migrations run separately through database/sql + lib/pq,
// since golang-migrate's postgres driver expects a *sql.DB.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes the pool and, when migrationsPath is non-empty, runs
// pending migrations from migrationsPath (e.g. "file://pgstore/migrations").
func Open(ctx context.Context, databaseURL, migrationsPath string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if migrationsPath != "" {
		if err := runMigrations(databaseURL, migrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Store{pool: pool}, nil
}

func runMigrations(databaseURL, migrationsPath string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("schema migrations applied")
	return nil
}

// Close releases the pool. Called once at daemon shutdown.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool to repositories. Repositories that
// need a single-wallet or single-job row lock acquire it through
// Pool().Begin and "SELECT ... FOR UPDATE", per spec §5.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// TimeoutCtx returns a derived context bounded by d, for call sites
// that don't already have a caller-supplied deadline.
func TimeoutCtx(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
