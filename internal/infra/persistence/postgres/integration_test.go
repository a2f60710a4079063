package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"gemini/internal/infra/persistence/postgres"
	"gemini/internal/model"
	"gemini/internal/persistence"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// startPostgres runs a disposable Postgres and returns a migrated store.
// It skips in -short mode or when no container runtime is reachable.
func startPostgres(t *testing.T) *persistence.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gemini"),
		tcpostgres.WithUsername("gemini"),
		tcpostgres.WithPassword("gemini"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := postgres.Open(ctx, dsn, persistence.PoolConfig{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgresEndToEnd(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx), "migration is idempotent")

	catalog := schema.NewCatalog(db, model.Options{})
	seeded, err := schema.Seed(ctx, catalog)
	require.NoError(t, err)
	assert.Positive(t, seeded)

	site, created, err := catalog.Sites().GetOrCreate(ctx, model.Args{
		"site_name": "Davis", "site_info": map[string]any{"zone": "9b", "irrigated": true},
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = catalog.Sites().Create(ctx, model.Args{"site_name": "Davis"})
	assert.Equal(t, model.KindConstraint, model.KindOf(err))

	rows, err := catalog.Sites().Search(ctx, model.Args{"site_info": map[string]any{"irrigated": true}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, site.ID(), rows[0].ID())

	res, err := catalog.Sites().InsertBulk(ctx, "", []model.Args{
		{"site_name": "Davis"}, {"site_name": "Kearney"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1)
	assert.Equal(t, 1, res.Skipped)

	sensors, ok := catalog.Entity("sensor")
	require.True(t, ok)
	sensor, err := sensors.Create(ctx, model.Args{"sensor_name": "RGB"})
	require.NoError(t, err)
	dataset, err := catalog.Datasets().Create(ctx, model.Args{"dataset_name": "Flight 1"})
	require.NoError(t, err)

	records, _ := catalog.Records(domain.KindSensor)
	view, _ := catalog.View(domain.KindSensor)
	ts := time.Date(2023, 6, 1, 15, 4, 5, 0, time.UTC)
	record := model.Args{
		"timestamp": ts, "collection_date": ts,
		"sensor_id": sensor.ID(), "sensor_name": "RGB",
		"dataset_id": dataset.ID(), "dataset_name": "Flight 1",
		"site_id": site.ID(), "site_name": "Davis",
		"sensor_data": map[string]any{"ndvi": 0.7},
	}
	res, err = records.InsertBulk(ctx, "", []model.Args{record, record})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1, "NULL plot columns still collide")

	got, err := view.Search(ctx, model.Args{"sensor_name": "RGB", "site_name": "Davis"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	gotTS, _ := got[0].Time("timestamp")
	assert.True(t, ts.Equal(gotTS))

	_, err = sensors.Update(ctx, sensor, model.Args{"sensor_name": "RGB v2"})
	require.NoError(t, err)
	n, err := view.Count(ctx, model.Args{"sensor_name": "RGB v2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "reads refresh the materialized view")
}
