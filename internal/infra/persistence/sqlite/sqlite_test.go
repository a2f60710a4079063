package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/internal/persistence"
)

func openMigrated(t *testing.T) *persistence.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "gemini.db"), persistence.PoolConfig{MaxOpenConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestOpenAppliesBundleAndPinsPool(t *testing.T) {
	db := openMigrated(t)
	assert.Equal(t, 1, db.SQL.Stats().MaxOpenConnections)

	var n int
	require.NoError(t, db.SQL.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name LIKE '%_records_view'`).Scan(&n))
	assert.Equal(t, 6, n)

	// migrating twice is a no-op
	require.NoError(t, db.Migrate(context.Background()))
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Memory, persistence.PoolConfig{})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.Migrate(ctx))
	_, err = db.SQL.ExecContext(ctx, `INSERT INTO sites (id, site_name) VALUES ('a', 'Site1')`)
	require.NoError(t, err)
	var name string
	require.NoError(t, db.SQL.QueryRowContext(ctx, `SELECT site_name FROM sites WHERE id = 'a'`).Scan(&name))
	assert.Equal(t, "Site1", name)
}

func TestClassifyConstraintErrors(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()
	d := Dialect{}

	_, err := db.SQL.ExecContext(ctx, `INSERT INTO sites (id, site_name) VALUES ('a', 'Site1')`)
	require.NoError(t, err)
	_, err = db.SQL.ExecContext(ctx, `INSERT INTO sites (id, site_name) VALUES ('b', 'Site1')`)
	require.Error(t, err)
	assert.Equal(t, persistence.ClassUniqueViolation, d.Classify(err))

	_, err = db.SQL.ExecContext(ctx, `INSERT INTO seasons (id, experiment_id, season_name) VALUES ('s', 'missing', '2023')`)
	require.Error(t, err)
	assert.Equal(t, persistence.ClassForeignKeyViolation, d.Classify(err))

	_, err = db.SQL.ExecContext(ctx, `INSERT INTO sites (id) VALUES ('c')`)
	require.Error(t, err)
	assert.Equal(t, persistence.ClassCheckViolation, d.Classify(err))

	assert.Equal(t, persistence.ClassUnknown, d.Classify(errors.New("plain")))
}

func TestUniqueIndexTreatsNullsAsEqual(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()
	_, err := db.SQL.ExecContext(ctx, `INSERT INTO plots (id, plot_number) VALUES ('p1', 5)`)
	require.NoError(t, err)
	res, err := db.SQL.ExecContext(ctx, `INSERT INTO plots (id, plot_number) VALUES ('p2', 5) ON CONFLICT DO NOTHING`)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestJSONContainsMatchesTopLevelKeys(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()
	_, err := db.SQL.ExecContext(ctx, `INSERT INTO sites (id, site_name, site_info) VALUES
		('a', 'A', json('{"soil":"clay","depth":3,"irrigated":true,"tags":["x"]}')),
		('b', 'B', json('{"soil":"sand","depth":3}'))`)
	require.NoError(t, err)

	d := Dialect{}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}
	clause, err := d.JSONContains(`"site_info"`, map[string]any{"soil": "clay", "depth": 3, "irrigated": true, "tags": []any{"x"}}, arg)
	require.NoError(t, err)

	rows, err := db.SQL.QueryContext(ctx, `SELECT id FROM sites WHERE `+clause, args...)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"a"}, ids)
}

func TestDialectRendering(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "?", d.Placeholder(7))
	assert.Equal(t, "json(?)", d.JSONValue("?"))
	assert.Equal(t, "ON CONFLICT DO NOTHING", d.OnConflictDoNothing("sensor_records_unique"))
	assert.Empty(t, d.RefreshView("sensor_records_view"))
	clause, err := d.JSONContains(`"x"`, map[string]any{}, func(any) string { return "?" })
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", clause)
}
