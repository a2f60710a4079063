package records

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gemini/internal/model"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// ErrNoObjectStore is returned when a batch carries files but the recorder
// has no object storage.
var ErrNoObjectStore = errors.New("object storage not configured")

// scope holds the dimension rows a batch resolves to.
type scope struct {
	entityID   any
	entityName string
	dataset    model.Row
	experiment model.Row
	season     model.Row
	site       model.Row
}

func (s scope) id(r model.Row) any {
	if r == nil {
		return nil
	}
	return r.ID()
}

// Add ingests b: it resolves the owning entity and context, get-or-creates
// the dataset, uploads attached files and bulk-inserts the records, skipping
// observations that already exist.
func (r *Recorder) Add(ctx context.Context, b Batch) (Result, error) {
	spec, table, _, err := r.kindModels(b.Kind, "add")
	if err != nil {
		return Result{}, err
	}
	if err := b.validate(spec); err != nil {
		return Result{}, err
	}
	if len(b.Files) > 0 && r.objects == nil && hasAny(b.Files) {
		return Result{}, model.NewError(model.KindUnavailable, spec.Table.Table, "add", ErrNoObjectStore)
	}

	sc, err := r.resolve(ctx, spec, b)
	if err != nil {
		return Result{}, err
	}
	created, err := r.resolveDataset(ctx, spec, b, &sc)
	if err != nil {
		return Result{}, err
	}
	if err := r.link(ctx, spec, sc); err != nil {
		return Result{}, err
	}
	plots, err := r.resolvePlots(ctx, spec, b, sc)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		DatasetID:      fmt.Sprint(sc.dataset.ID()),
		DatasetName:    sc.dataset.String("dataset_name"),
		DatasetCreated: created,
	}
	keys, uploaded, skipped, err := r.upload(ctx, spec, b, sc)
	if err != nil {
		return Result{}, err
	}
	res.Uploaded, res.UploadSkipped = uploaded, skipped

	rows := make([]model.Args, b.Len())
	for i := range b.Len() {
		rows[i] = r.row(spec, b, sc, i, plots[i], keys[i])
	}
	bulk, err := table.InsertBulk(ctx, spec.Table.UniqueConstraint, rows)
	if err != nil {
		return Result{}, err
	}
	res.Accepted = make([]string, len(bulk.Accepted))
	for i, id := range bulk.Accepted {
		res.Accepted[i] = fmt.Sprint(id)
	}
	res.Skipped = bulk.Skipped
	if res.Skipped > 0 {
		r.log.Info("existing records skipped", "kind", b.Kind, "dataset", res.DatasetName, "skipped", res.Skipped)
	}
	r.log.Debug("records added", "kind", b.Kind, "entity", sc.entityName, "dataset", res.DatasetName,
		"accepted", len(res.Accepted), "uploaded", res.Uploaded)
	return res, nil
}

// resolve looks up the owning entity and the named experiment, season and
// site. A name that does not resolve is a not-found error.
func (r *Recorder) resolve(ctx context.Context, spec schema.RecordSpec, b Batch) (scope, error) {
	sc := scope{entityName: b.EntityName}
	if spec.Entity != nil {
		base, _ := r.catalog.Entity(spec.Entity.Name)
		row, err := r.lookup(ctx, base, model.Args{spec.EntityNameColumn(): b.EntityName}, spec.Entity.Name, b.EntityName)
		if err != nil {
			return sc, err
		}
		sc.entityID = row.ID()
	}
	var err error
	if b.ExperimentName != "" {
		if sc.experiment, err = r.lookup(ctx, r.catalog.Experiments(),
			model.Args{"experiment_name": b.ExperimentName}, "experiment", b.ExperimentName); err != nil {
			return sc, err
		}
	}
	if b.SeasonName != "" {
		args := model.Args{"season_name": b.SeasonName, "experiment_id": sc.id(sc.experiment)}
		if sc.season, err = r.lookup(ctx, r.catalog.Seasons(), args, "season", b.SeasonName); err != nil {
			return sc, err
		}
	}
	if b.SiteName != "" {
		if sc.site, err = r.lookup(ctx, r.catalog.Sites(),
			model.Args{"site_name": b.SiteName}, "site", b.SiteName); err != nil {
			return sc, err
		}
	}
	return sc, nil
}

func (r *Recorder) lookup(ctx context.Context, base *model.Base, args model.Args, what, name string) (model.Row, error) {
	row, found, err := base.GetByParameters(ctx, args)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.NotFoundError(base.Descriptor().Table, "add", fmt.Errorf("%s %q does not exist", what, name))
	}
	return row, nil
}

// resolveDataset get-or-creates the batch's dataset. Dataset records are
// owned by the dataset named by the batch entity.
func (r *Recorder) resolveDataset(ctx context.Context, spec schema.RecordSpec, b Batch, sc *scope) (bool, error) {
	first := domain.CollectionDate(b.Timestamps[0])
	name := b.DatasetName
	if spec.Entity == nil {
		name = b.EntityName
	}
	if name == "" {
		name = b.EntityName + "_" + first.Format(domain.DateLayout)
	}
	args := model.Args{"dataset_name": name, "collection_date": first}
	if spec.Entity != nil {
		types, _ := r.catalog.Entity(schema.DatasetType.Name)
		typeName := strings.ToUpper(string(spec.Kind[:1])) + string(spec.Kind[1:])
		t, found, err := types.GetByParameters(ctx, model.Args{"dataset_type_name": typeName})
		if err != nil {
			return false, err
		}
		if found {
			args["dataset_type_id"] = t.ID()
		}
	}
	row, created, err := r.catalog.Datasets().GetOrCreate(ctx, args)
	if err != nil {
		return false, err
	}
	sc.dataset = row
	if spec.Entity == nil {
		sc.entityID = row.ID()
	}
	if created {
		r.log.Info("dataset created", "dataset", name, "kind", spec.Kind)
	}
	return created, nil
}

// link records the entity, experiment and dataset relationships of a batch.
func (r *Recorder) link(ctx context.Context, spec schema.RecordSpec, sc scope) error {
	type pair struct {
		table       string
		left, right any
	}
	var pairs []pair
	datasetID := sc.dataset.ID()
	if spec.DatasetLink != "" {
		pairs = append(pairs, pair{spec.DatasetLink, sc.entityID, datasetID})
	}
	if sc.experiment != nil {
		expID := sc.experiment.ID()
		pairs = append(pairs, pair{"experiment_datasets", expID, datasetID})
		if spec.ExperimentLink != "" {
			pairs = append(pairs, pair{spec.ExperimentLink, expID, sc.entityID})
		}
		if sc.site != nil {
			pairs = append(pairs, pair{"experiment_sites", expID, sc.site.ID()})
		}
	}
	for _, p := range pairs {
		assoc, ok := r.catalog.Association(p.table)
		if !ok {
			return fmt.Errorf("no association %s", p.table)
		}
		if _, err := assoc.Link(ctx, p.left, p.right, nil); err != nil {
			return err
		}
	}
	return nil
}

// resolvePlots maps each observation's plot coordinates to a plot id within
// the batch context. Coordinates without a matching plot keep a nil id.
func (r *Recorder) resolvePlots(ctx context.Context, spec schema.RecordSpec, b Batch, sc scope) ([]any, error) {
	ids := make([]any, b.Len())
	if !spec.HasPlot || !b.hasPlots() {
		return ids, nil
	}
	cache := make(map[string]any)
	for i := range b.Len() {
		number, row, column := b.plotAt(i)
		ck := fmt.Sprint(number, "/", row, "/", column)
		if id, ok := cache[ck]; ok {
			ids[i] = id
			continue
		}
		// Absent context ids and coordinates must match NULL, so the filter
		// skips ValidateFields.
		plots, err := r.catalog.Plots().SearchFilter(ctx, model.Filter{
			Equal: model.Args{
				"experiment_id":      sc.id(sc.experiment),
				"season_id":          sc.id(sc.season),
				"site_id":            sc.id(sc.site),
				"plot_number":        number,
				"plot_row_number":    row,
				"plot_column_number": column,
			},
			Limit: 1,
		})
		if err != nil {
			return nil, err
		}
		var id any
		if len(plots) > 0 {
			id = plots[0].ID()
		}
		cache[ck] = id
		ids[i] = id
	}
	return ids, nil
}

// upload puts every attached file under its record key. The returned slice
// holds the key of each observation, or nil when it has no file.
func (r *Recorder) upload(ctx context.Context, spec schema.RecordSpec, b Batch, sc scope) ([]any, int, int, error) {
	keys := make([]any, b.Len())
	if len(b.Files) == 0 {
		return keys, 0, 0, nil
	}
	paths := make(map[string]string)
	for i, path := range b.Files {
		if path == "" {
			continue
		}
		key := fileKey(spec, sc.entityName, b.Timestamps[i], filepath.Base(path))
		keys[i] = key
		paths[key] = path
	}
	tags := compactTags(map[string]string{
		"kind":       string(spec.Kind),
		"entity":     sc.entityName,
		"dataset":    sc.dataset.String("dataset_name"),
		"experiment": b.ExperimentName,
		"season":     b.SeasonName,
		"site":       b.SiteName,
	})
	var uploaded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.UploadConcurrency)
	for key, path := range paths {
		g.Go(func() error {
			res, err := r.objects.Upload(gctx, key, path, tags)
			if err != nil {
				return err
			}
			if res.Skipped {
				skipped.Add(1)
			} else {
				uploaded.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, model.NewError(model.KindUnavailable, spec.Table.Table, "upload", err)
	}
	return keys, int(uploaded.Load()), int(skipped.Load()), nil
}

// row builds the insert arguments of observation i. Context names and plot
// coordinates are merged into record_info; nil values are dropped.
func (r *Recorder) row(spec schema.RecordSpec, b Batch, sc scope, i int, plotID, key any) model.Args {
	ts := b.Timestamps[i].UTC()
	number, plotRow, plotColumn := b.plotAt(i)

	info := domain.NewInfo()
	if len(b.Infos) > 0 {
		info = domain.InfoFromMap(b.Infos[i])
	}
	info.Merge(domain.NewInfo().
		Set("experiment_name", nilIfEmpty(b.ExperimentName)).
		Set("season_name", nilIfEmpty(b.SeasonName)).
		Set("site_name", nilIfEmpty(b.SiteName)).
		Set("plot_number", number).
		Set("plot_row_number", plotRow).
		Set("plot_column_number", plotColumn)).Compact()

	args := model.Args{
		"timestamp":       ts,
		"collection_date": domain.CollectionDate(ts),
		"dataset_id":      sc.dataset.ID(),
		"dataset_name":    sc.dataset.String("dataset_name"),
		"experiment_id":   sc.id(sc.experiment),
		"experiment_name": nilIfEmpty(b.ExperimentName),
		"season_id":       sc.id(sc.season),
		"season_name":     nilIfEmpty(b.SeasonName),
		"site_id":         sc.id(sc.site),
		"site_name":       nilIfEmpty(b.SiteName),
		"record_file":     key,
		"record_info":     info,
	}
	if spec.Entity != nil {
		args[spec.EntityIDColumn()] = sc.entityID
		args[spec.EntityNameColumn()] = sc.entityName
	}
	if spec.HasPlot {
		args["plot_id"] = plotID
		args["plot_number"] = number
		args["plot_row_number"] = plotRow
		args["plot_column_number"] = plotColumn
	}
	if spec.Scalar {
		args[spec.ValueColumn] = b.Values[i]
	} else {
		args[spec.ValueColumn] = b.Data[i]
	}
	return args
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func hasAny(files []string) bool {
	for _, f := range files {
		if f != "" {
			return true
		}
	}
	return false
}

func compactTags(tags map[string]string) map[string]string {
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return tags
}
