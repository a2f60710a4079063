// Package postgres opens the GEMINI relational store on Postgres through the
// pgx database/sql driver and supplies the Postgres SQL dialect.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"gemini/internal/entitymodel/sqlbundle"
	"gemini/internal/persistence"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/gemini?sslmode=disable"
	// maxParams is the Postgres wire protocol limit on bind parameters.
	maxParams = 65535
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open connects to Postgres, applies the pool limits and verifies the
// connection. The schema is not migrated; call DB.Migrate for that.
func Open(ctx context.Context, dsn string, pool persistence.PoolConfig) (*persistence.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.Apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return persistence.New(db, Dialect{}), nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// Dialect implements persistence.Dialect for Postgres 15+.
type Dialect struct{}

var _ persistence.Dialect = Dialect{}

// Name implements persistence.Dialect.
func (Dialect) Name() string { return "postgres" }

// Placeholder implements persistence.Dialect.
func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// MaxParams implements persistence.Dialect.
func (Dialect) MaxParams() int { return maxParams }

// JSONValue implements persistence.Dialect.
func (Dialect) JSONValue(placeholder string) string { return placeholder + "::jsonb" }

// JSONContains renders `column @> $n::jsonb`, which the GIN indexes on the
// JSON bags serve directly.
func (Dialect) JSONContains(column string, value map[string]any, arg func(any) string) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode containment filter: %w", err)
	}
	return column + " @> " + arg(string(b)) + "::jsonb", nil
}

// OnConflictDoNothing implements persistence.Dialect.
func (Dialect) OnConflictDoNothing(constraint string) string {
	if constraint == "" {
		return "ON CONFLICT DO NOTHING"
	}
	return "ON CONFLICT ON CONSTRAINT " + persistence.QuoteIdent(constraint) + " DO NOTHING"
}

// RefreshView implements persistence.Dialect.
func (Dialect) RefreshView(view string) string {
	return "REFRESH MATERIALIZED VIEW " + persistence.QuoteIdent(view)
}

// Classify maps SQLSTATE codes and connection failures to error classes.
func (Dialect) Classify(err error) persistence.ErrorClass {
	if err == nil {
		return persistence.ClassUnknown
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return persistence.ClassUniqueViolation
		case "23503":
			return persistence.ClassForeignKeyViolation
		case "23502", "23514":
			return persistence.ClassCheckViolation
		case "53300", "57P01", "57P03":
			return persistence.ClassUnavailable
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return persistence.ClassUnavailable
		}
		return persistence.ClassUnknown
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, driver.ErrBadConn) {
		return persistence.ClassUnavailable
	}
	return persistence.ClassUnknown
}

// DDL implements persistence.Dialect.
func (Dialect) DDL() string { return sqlbundle.Postgres() }
