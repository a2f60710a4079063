package model_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/internal/infra/persistence/sqlite"
	"gemini/internal/model"
	"gemini/internal/persistence"
	"gemini/internal/schema"
)

// tinyParams forces InsertBulk to split small batches into several statements.
type tinyParams struct{ sqlite.Dialect }

func (tinyParams) MaxParams() int { return 7 }

func TestInsertBulkSkipsConflicts(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	sites := model.New(openDB(t), schema.Site, model.Options{Observer: obs})

	res, err := sites.InsertBulk(ctx, "", []model.Args{
		{"site_name": "A"}, {"site_name": "B"}, {"site_name": "C"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 3)
	assert.Zero(t, res.Skipped)

	res, err = sites.InsertBulk(ctx, schema.Site.UniqueConstraint, []model.Args{
		{"site_name": "A"}, {"site_name": "D"}, {"site_name": "B"}, {"site_name": "E"}, {"site_name": "E"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 2)
	assert.Equal(t, 3, res.Skipped)

	n, err := sites.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 5, obs.accepted)
	assert.Equal(t, 3, obs.skipped)
}

func TestInsertBulkChunksByParameterLimit(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	small := persistence.New(db.SQL, tinyParams{})
	sites := model.New(small, schema.Site, model.Options{})

	rows := make([]model.Args, 11)
	for i := range rows {
		rows[i] = model.Args{"site_name": fmt.Sprintf("s%02d", i), "site_city": "Davis"}
	}
	// A second column signature lands in its own group.
	rows = append(rows, model.Args{"site_name": "bare"})

	res, err := sites.InsertBulk(ctx, "", rows)
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 12)

	all, err := sites.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestInsertBulkRejectsInvalidRowsAtomically(t *testing.T) {
	ctx := context.Background()
	plots := model.New(openDB(t), schema.Plot, model.Options{})
	_, err := plots.InsertBulk(ctx, "", []model.Args{
		{"plot_number": 1},
		{"plot_number": "x"},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	n, err := plots.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertBulkEmpty(t *testing.T) {
	sites := model.New(openDB(t), schema.Site, model.Options{})
	res, err := sites.InsertBulk(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Zero(t, res.Skipped)
}
