package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/internal/infra/persistence/sqlite"
	"gemini/internal/model"
	"gemini/internal/persistence"
	"gemini/pkg/domain"
)

func openDB(t *testing.T) *persistence.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "schema.db"), persistence.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestDescriptorsAreConsistent(t *testing.T) {
	for _, d := range Entities() {
		require.NoError(t, d.Validate(), d.Name)
		assert.NotEmpty(t, d.NaturalKey, d.Name)
	}
	for _, spec := range Records() {
		require.NoError(t, spec.Table.Validate(), spec.Table.Name)
		require.NoError(t, spec.View.Validate(), spec.View.Name)
		assert.True(t, spec.View.ReadOnly)
		assert.Equal(t, string(spec.Kind)+"_records_unique", spec.Table.UniqueConstraint)
	}
	assert.Len(t, Entities(), 19)
	assert.Len(t, Records(), 6)
	assert.Len(t, Associations(), 16)
}

func selectable(t *testing.T, db *persistence.DB, table string, cols []string) {
	t.Helper()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = persistence.QuoteIdent(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(quoted, ", "), persistence.QuoteIdent(table))
	rows, err := db.SQL.Query(q)
	require.NoError(t, err, table)
	require.NoError(t, rows.Close())
}

func TestDescriptorsMatchDDL(t *testing.T) {
	db := openDB(t)
	for _, d := range Entities() {
		selectable(t, db, d.Table, d.ColumnNames())
	}
	for _, spec := range Records() {
		selectable(t, db, spec.Table.Table, spec.Table.ColumnNames())
		selectable(t, db, spec.View.Table, spec.View.ColumnNames())
	}
	for _, a := range Associations() {
		selectable(t, db, a.Table, []string{a.Left, a.Right, "info"})
	}
}

func TestRecordSpecColumns(t *testing.T) {
	sensor, ok := Record(domain.KindSensor)
	require.True(t, ok)
	assert.Equal(t, "sensor_id", sensor.EntityIDColumn())
	assert.Equal(t, "sensor_name", sensor.EntityNameColumn())
	assert.Equal(t, "sensor_data", sensor.ValueColumn)
	assert.Equal(t, "sensor_datasets", sensor.DatasetLink)
	assert.Equal(t, "experiment_sensors", sensor.ExperimentLink)
	assert.True(t, sensor.HasPlot)

	trait, _ := Record(domain.KindTrait)
	assert.Equal(t, "trait_value", trait.ValueColumn)
	assert.True(t, trait.Scalar)

	ds, _ := Record(domain.KindDataset)
	assert.Nil(t, ds.Entity)
	assert.Equal(t, "dataset_id", ds.EntityIDColumn())
	assert.Equal(t, "dataset_name", ds.EntityNameColumn())
	assert.Empty(t, ds.DatasetLink)

	_, ok = Record("weather")
	assert.False(t, ok)
}

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog(openDB(t), model.Options{})
	for _, name := range []string{"sensor", "sensors", "sensor-platform", "SENSOR_PLATFORMS"} {
		_, ok := c.Entity(name)
		assert.True(t, ok, name)
	}
	_, ok := c.Entity("weather")
	assert.False(t, ok)
	assert.Len(t, c.EntityNames(), 19)
	for _, kind := range domain.RecordKinds() {
		_, ok := c.Records(kind)
		assert.True(t, ok)
		_, ok = c.View(kind)
		assert.True(t, ok)
	}
	_, ok = c.Association("plot_cultivars")
	assert.True(t, ok)
	assert.Equal(t, "experiments", c.Experiments().Descriptor().Table)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(openDB(t), model.Options{})
	created, err := Seed(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, len(taxonomy()), created)

	again, err := Seed(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, again)

	levels, err := c.entities[TraitLevel.Name].All(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 3)

	png, found, err := c.entities[DataFormat.Name].GetByParameters(ctx, model.Args{"data_format_name": "PNG"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "image/png", png.String("data_format_mime_type"))
	id, ok := png.Int("id")
	assert.True(t, ok)
	assert.Positive(t, id)
}
