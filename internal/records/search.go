package records

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// Query selects records of one kind. Empty fields do not constrain; Info is
// matched by JSON containment against record_info; From and To bound the
// collection date inclusively.
type Query struct {
	EntityName       string         `query:"entity_name" json:"entity_name,omitempty"`
	DatasetName      string         `query:"dataset_name" json:"dataset_name,omitempty"`
	ExperimentName   string         `query:"experiment_name" json:"experiment_name,omitempty"`
	SeasonName       string         `query:"season_name" json:"season_name,omitempty"`
	SiteName         string         `query:"site_name" json:"site_name,omitempty"`
	PlotNumber       *int64         `query:"plot_number" json:"plot_number,omitempty"`
	PlotRowNumber    *int64         `query:"plot_row_number" json:"plot_row_number,omitempty"`
	PlotColumnNumber *int64         `query:"plot_column_number" json:"plot_column_number,omitempty"`
	Info             map[string]any `query:"-" json:"record_info,omitempty"`
	From             time.Time      `query:"-" json:"from,omitzero"`
	To               time.Time      `query:"-" json:"to,omitzero"`
	Limit            int            `query:"limit" json:"limit,omitempty"`
}

func (q Query) filter(spec schema.RecordSpec) model.Filter {
	eq := model.Args{}
	set := func(col, v string) {
		if v != "" {
			eq[col] = v
		}
	}
	set("dataset_name", q.DatasetName)
	set(spec.EntityNameColumn(), q.EntityName)
	set("experiment_name", q.ExperimentName)
	set("season_name", q.SeasonName)
	set("site_name", q.SiteName)
	if q.PlotNumber != nil {
		eq["plot_number"] = *q.PlotNumber
	}
	if q.PlotRowNumber != nil {
		eq["plot_row_number"] = *q.PlotRowNumber
	}
	if q.PlotColumnNumber != nil {
		eq["plot_column_number"] = *q.PlotColumnNumber
	}
	if len(q.Info) > 0 {
		eq["record_info"] = q.Info
	}
	f := model.Filter{Equal: eq, Limit: q.Limit}
	if !q.From.IsZero() || !q.To.IsZero() {
		var rg model.Range
		if !q.From.IsZero() {
			rg.From = domain.CollectionDate(q.From)
		}
		if !q.To.IsZero() {
			rg.To = domain.CollectionDate(q.To)
		}
		f.Ranges = map[string]model.Range{"collection_date": rg}
	}
	return f
}

// Search streams the records matching q through the kind's view. File keys
// are resolved to presigned URLs as records are read.
func (r *Recorder) Search(ctx context.Context, kind domain.RecordKind, q Query) (*RecordCursor, error) {
	spec, _, view, err := r.kindModels(kind, "search")
	if err != nil {
		return nil, err
	}
	cur, err := view.StreamFilter(ctx, q.filter(spec))
	if err != nil {
		return nil, err
	}
	return &RecordCursor{ctx: ctx, r: r, spec: spec, cur: cur}, nil
}

// Get returns one record by id.
func (r *Recorder) Get(ctx context.Context, kind domain.RecordKind, id string) (domain.Record, bool, error) {
	spec, _, view, err := r.kindModels(kind, "get")
	if err != nil {
		return domain.Record{}, false, err
	}
	row, found, err := view.Get(ctx, id)
	if err != nil || !found {
		return domain.Record{}, found, err
	}
	rec, err := r.toRecord(ctx, spec, row)
	return rec, err == nil, err
}

// Patch is the mutable part of a record. Info keys are merged into the
// stored record_info; a nil value removes the key. File is a local path that
// replaces the attached file.
type Patch struct {
	Info map[string]any `json:"record_info,omitempty"`
	File string         `json:"file,omitempty"`
}

// Update applies p to the record with id and returns the updated record.
func (r *Recorder) Update(ctx context.Context, kind domain.RecordKind, id string, p Patch) (domain.Record, error) {
	spec, table, _, err := r.kindModels(kind, "update")
	if err != nil {
		return domain.Record{}, err
	}
	row, found, err := table.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !found {
		return domain.Record{}, model.NotFoundError(spec.Table.Table, "update", fmt.Errorf("record %s", id))
	}
	args := model.Args{}
	if p.Info != nil {
		info, err := row.Info("record_info")
		if err != nil {
			return domain.Record{}, model.NewError(model.KindInternal, spec.Table.Table, "update", err)
		}
		info.Merge(domain.InfoFromMap(p.Info)).Compact()
		args["record_info"] = model.Keep{Value: info}
	}
	if p.File != "" {
		if r.objects == nil {
			return domain.Record{}, model.NewError(model.KindUnavailable, spec.Table.Table, "update", ErrNoObjectStore)
		}
		ts, _ := row.Time("timestamp")
		key := fileKey(spec, row.String(spec.EntityNameColumn()), ts, filepath.Base(p.File))
		if _, err := r.objects.Upload(ctx, key, p.File, map[string]string{"kind": string(kind)}); err != nil {
			return domain.Record{}, model.NewError(model.KindUnavailable, spec.Table.Table, "upload", err)
		}
		args["record_file"] = key
	}
	if _, err := table.Update(ctx, row, args); err != nil {
		return domain.Record{}, err
	}
	rec, found, err := r.Get(ctx, kind, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !found {
		return domain.Record{}, model.NotFoundError(spec.Table.Table, "update", fmt.Errorf("record %s", id))
	}
	return rec, nil
}

// Delete removes the record with id. Attached objects are kept since other
// records may share the key.
func (r *Recorder) Delete(ctx context.Context, kind domain.RecordKind, id string) (bool, error) {
	_, table, _, err := r.kindModels(kind, "delete")
	if err != nil {
		return false, err
	}
	return table.Delete(ctx, id)
}

// toRecord converts a view row. A file whose URL cannot be signed keeps its
// key and an empty URL.
func (r *Recorder) toRecord(ctx context.Context, spec schema.RecordSpec, row model.Row) (domain.Record, error) {
	info, err := row.Info("record_info")
	if err != nil {
		return domain.Record{}, model.NewError(model.KindInternal, spec.View.Table, "read", err)
	}
	rec := domain.Record{
		ID:             row.String("id"),
		Kind:           spec.Kind,
		DatasetID:      row.String("dataset_id"),
		DatasetName:    row.String("dataset_name"),
		ExperimentID:   row.String("experiment_id"),
		ExperimentName: row.String("experiment_name"),
		SeasonID:       row.String("season_id"),
		SeasonName:     row.String("season_name"),
		SiteID:         row.String("site_id"),
		SiteName:       row.String("site_name"),
		File:           row.String("record_file"),
		Info:           info,
	}
	if ts, ok := row.Time("timestamp"); ok {
		rec.Timestamp = ts
	}
	if d, ok := row.Time("collection_date"); ok {
		rec.CollectionDate = d.Format(domain.DateLayout)
	}
	if spec.Entity != nil {
		rec.EntityID = row.String(spec.EntityIDColumn())
		rec.EntityName = row.String(spec.EntityNameColumn())
	}
	if spec.HasPlot {
		rec.PlotID = row.String("plot_id")
		rec.PlotNumber = intPtr(row, "plot_number")
		rec.PlotRowNumber = intPtr(row, "plot_row_number")
		rec.PlotColumnNumber = intPtr(row, "plot_column_number")
		rec.PlotGeometry = row.JSON("plot_geometry_info")
	}
	if spec.Scalar {
		if v, ok := row.Float(spec.ValueColumn); ok {
			rec.Value = &v
		}
	} else {
		rec.Data = row.JSON(spec.ValueColumn)
	}
	if rec.File != "" && r.objects != nil {
		u, err := r.objects.PresignedURL(ctx, rec.File, r.opts.URLExpiry)
		switch {
		case err == nil:
			rec.FileURL = u
		case errors.Is(err, objectstore.ErrObjectNotFound):
			r.log.Warn("record file missing from object storage", "record", rec.ID, "key", rec.File)
		default:
			r.log.Warn("presign record file failed", "record", rec.ID, "key", rec.File, "error", err)
		}
	}
	return rec, nil
}

func intPtr(row model.Row, col string) *int64 {
	if v, ok := row.Int(col); ok {
		return &v
	}
	return nil
}

// RecordCursor yields resolved records from a view stream. It must be closed.
type RecordCursor struct {
	ctx  context.Context
	r    *Recorder
	spec schema.RecordSpec
	cur  *model.Cursor
	rec  domain.Record
	err  error
}

// Next advances to the next record.
func (c *RecordCursor) Next() bool {
	if c.err != nil || !c.cur.Next() {
		return false
	}
	rec, err := c.r.toRecord(c.ctx, c.spec, c.cur.Row())
	if err != nil {
		c.err = err
		return false
	}
	c.rec = rec
	return true
}

// Record returns the current record.
func (c *RecordCursor) Record() domain.Record { return c.rec }

// Err returns the first error encountered.
func (c *RecordCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// Close releases the underlying stream.
func (c *RecordCursor) Close() error { return c.cur.Close() }

// All yields every remaining record and closes the cursor when done.
func (c *RecordCursor) All() iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		defer func() { _ = c.Close() }()
		for c.Next() {
			if !yield(c.rec, nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(domain.Record{}, err)
		}
	}
}

// Collect drains the cursor into a slice.
func (c *RecordCursor) Collect() ([]domain.Record, error) {
	var out []domain.Record
	for rec, err := range c.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
