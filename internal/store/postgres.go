// Package store is the persistence gateway: the sole component that
// talks SQL, wrapping a pgx-backed connection pool and fronting every
// reference-data write with a cache invalidation callout.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/montignypatrik/facnet-validator-core/internal/apierrors"
)

//go:embed schema.sql
var schemaSQL string

// Querier is the thin subset of *sql.DB the gateway depends on. Production
// code gets one from Open (backed by pgx's database/sql driver, so the
// gateway still speaks through pgx's wire implementation); tests substitute
// a go-sqlmock-backed Querier.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps a pgx-backed *sql.DB with the same thin Exec/Query/QueryRow
// surface this codebase's other Postgres client uses, rather than an ORM.
type DB struct {
	conn *sql.DB
}

// Open creates a pooled connection to connString (standard PostgreSQL DSN)
// via the pgx database/sql driver and verifies it.
func Open(ctx context.Context, connString string) (*DB, error) {
	conn, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent
// (CREATE ... IF NOT EXISTS), so this is safe to run at each startup.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Conn exposes the underlying *sql.DB for transaction management.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Classify tags a gateway error with its taxonomy kind so the job layer
// can decide retry-vs-fail-fast. Integrity violations (SQLSTATE class 23)
// and malformed statements (class 42) are deterministic and must not
// consume the retry budget; every other database failure is treated as
// transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23", "42":
			return apierrors.New(apierrors.KindPersistenceIntegrity, err)
		}
	}
	return apierrors.New(apierrors.KindPersistenceTransient, err)
}
