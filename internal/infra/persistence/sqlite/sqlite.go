// Package sqlite opens the GEMINI relational store on SQLite through the pure-Go
// modernc driver and supplies the SQLite SQL dialect. It backs development
// setups and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"gemini/internal/entitymodel/sqlbundle"
	"gemini/internal/persistence"
)

const (
	// DefaultPath is used when no database path is configured.
	DefaultPath = "gemini.db"
	// Memory opens a private in-memory database.
	Memory = ":memory:"
	// maxParams matches SQLITE_MAX_VARIABLE_NUMBER since 3.32.
	maxParams = 32766
)

// Open opens (creating if needed) the SQLite database at path with foreign
// keys enforced. SQLite serialises writers, so the pool is pinned to one
// connection regardless of pool.MaxOpenConns.
func Open(ctx context.Context, path string, pool persistence.PoolConfig) (*persistence.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	dsn := "file::memory:"
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pool.MaxOpenConns = 1
	pool.ConnMaxLifetime = 0
	pool.ConnMaxIdleTime = 0
	pool.Apply(db)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return persistence.New(db, Dialect{}), nil
}

// Dialect implements persistence.Dialect for SQLite 3.35+.
type Dialect struct{}

var _ persistence.Dialect = Dialect{}

// Name implements persistence.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Placeholder implements persistence.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// MaxParams implements persistence.Dialect.
func (Dialect) MaxParams() int { return maxParams }

// JSONValue implements persistence.Dialect.
func (Dialect) JSONValue(placeholder string) string { return "json(" + placeholder + ")" }

// JSONContains compares each top-level key of value with json_extract. Nested
// objects and arrays compare by their minified JSON text.
func (Dialect) JSONContains(column string, value map[string]any, arg func(any) string) (string, error) {
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		path := `$."` + strings.ReplaceAll(k, `"`, `\"`) + `"`
		switch v := value[k].(type) {
		case nil:
			parts = append(parts, "json_type("+column+", "+arg(path)+") = 'null'")
		case bool:
			n := 0
			if v {
				n = 1
			}
			parts = append(parts, "json_extract("+column+", "+arg(path)+") = "+arg(n))
		case string, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
			if num, ok := v.(json.Number); ok {
				f, err := num.Float64()
				if err != nil {
					return "", fmt.Errorf("containment value for %q: %w", k, err)
				}
				parts = append(parts, "json_extract("+column+", "+arg(path)+") = "+arg(f))
				continue
			}
			parts = append(parts, "json_extract("+column+", "+arg(path)+") = "+arg(v))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("containment value for %q: %w", k, err)
			}
			parts = append(parts, "json_extract("+column+", "+arg(path)+") = json("+arg(string(b))+")")
		}
	}
	if len(parts) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(parts, " AND "), nil
}

// OnConflictDoNothing implements persistence.Dialect. SQLite cannot name a
// constraint in the conflict target, so any uniqueness violation skips the row.
func (Dialect) OnConflictDoNothing(string) string { return "ON CONFLICT DO NOTHING" }

// RefreshView implements persistence.Dialect. SQLite views are always current.
func (Dialect) RefreshView(string) string { return "" }

// Classify maps SQLite result codes to error classes.
func (Dialect) Classify(err error) persistence.ErrorClass {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return persistence.ClassUnknown
	}
	code := sqErr.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return persistence.ClassUniqueViolation
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return persistence.ClassForeignKeyViolation
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
		return persistence.ClassCheckViolation
	}
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		msg := sqErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE"):
			return persistence.ClassUniqueViolation
		case strings.Contains(msg, "FOREIGN KEY"):
			return persistence.ClassForeignKeyViolation
		}
		return persistence.ClassCheckViolation
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
		return persistence.ClassUnavailable
	}
	return persistence.ClassUnknown
}

// DDL implements persistence.Dialect.
func (Dialect) DDL() string { return sqlbundle.SQLite() }
