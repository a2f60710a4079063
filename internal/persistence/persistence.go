// Package persistence holds the relational store handle shared by the model
// layer and the dialect contract that Postgres and SQLite adapters implement.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gemini/internal/entitymodel/sqlbundle"
)

// ErrorClass is a dialect-neutral classification of driver errors.
type ErrorClass int

const (
	// ClassUnknown means the dialect could not classify the error.
	ClassUnknown ErrorClass = iota
	// ClassUniqueViolation is a uniqueness constraint failure.
	ClassUniqueViolation
	// ClassForeignKeyViolation is a referential integrity failure.
	ClassForeignKeyViolation
	// ClassCheckViolation covers NOT NULL and CHECK failures.
	ClassCheckViolation
	// ClassUnavailable means the store could not be reached or is out of capacity.
	ClassUnavailable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUniqueViolation:
		return "unique_violation"
	case ClassForeignKeyViolation:
		return "foreign_key_violation"
	case ClassCheckViolation:
		return "check_violation"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Dialect captures the SQL differences between supported relational stores.
type Dialect interface {
	// Name returns the dialect identifier ("postgres" or "sqlite").
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// MaxParams is the largest number of bind parameters a single statement may carry.
	MaxParams() int
	// JSONValue wraps a placeholder bound to JSON text so the store parses it.
	JSONValue(placeholder string) string
	// JSONContains renders a containment predicate for column against the
	// object value. arg binds a value and returns its placeholder.
	JSONContains(column string, value map[string]any, arg func(any) string) (string, error)
	// OnConflictDoNothing renders the conflict clause for bulk inserts. An empty
	// constraint means any uniqueness violation.
	OnConflictDoNothing(constraint string) string
	// RefreshView returns the statement that refreshes a read view, or "" when
	// views are always current.
	RefreshView(view string) string
	// Classify maps a driver error to an ErrorClass.
	Classify(err error) ErrorClass
	// DDL returns the schema bundle for this dialect.
	DDL() string
}

// DB is the relational store handle passed to every model.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
}

// New wraps an open *sql.DB with its dialect.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{SQL: db, Dialect: dialect}
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

// Ping verifies the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
				err = fmt.Errorf("rollback: %w", rbErr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Migrate applies the dialect's DDL bundle.
func (db *DB) Migrate(ctx context.Context) error {
	return ApplyDDL(ctx, db.SQL, db.Dialect.DDL())
}

// Execer is the subset of *sql.DB and *sql.Tx used to apply DDL.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyDDL executes every statement of a DDL script in order.
func ApplyDDL(ctx context.Context, exec Execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// PoolConfig configures the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Apply sets the non-zero pool limits on db.
func (p PoolConfig) Apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}

// QuoteIdent double-quotes an identifier for both supported dialects.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
