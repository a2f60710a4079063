// Package records ingests columnar observation batches and reads them back
// through the per-kind record views.
package records

import (
	"fmt"
	"log/slog"
	"time"

	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// DefaultUploadConcurrency bounds parallel file uploads within one batch.
const DefaultUploadConcurrency = 4

// Options tunes a Recorder.
type Options struct {
	UploadConcurrency int
	// URLExpiry is the validity of presigned file URLs on the read path.
	URLExpiry time.Duration
	Logger    *slog.Logger
}

// Recorder writes and reads record batches. Objects may be nil when no
// object storage is configured; batches with files are then rejected.
type Recorder struct {
	catalog *schema.Catalog
	objects *objectstore.Client
	opts    Options
	log     *slog.Logger
}

// New returns a Recorder over the catalog's models.
func New(catalog *schema.Catalog, objects *objectstore.Client, opts Options) *Recorder {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = DefaultUploadConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recorder{catalog: catalog, objects: objects, opts: opts, log: log}
}

// Catalog returns the model catalog the recorder writes through.
func (r *Recorder) Catalog() *schema.Catalog { return r.catalog }

// kindModels resolves the spec, write model and read view of kind.
func (r *Recorder) kindModels(kind domain.RecordKind, op string) (schema.RecordSpec, *model.Base, *model.View, error) {
	spec, ok := schema.Record(kind)
	if !ok {
		return schema.RecordSpec{}, nil, nil, model.ValidationError("records", op, "kind", fmt.Errorf("unknown record kind %q", kind))
	}
	table, _ := r.catalog.Records(kind)
	view, _ := r.catalog.View(kind)
	return spec, table, view, nil
}

// fileKey is the object key of an attached file:
// {category}/{entity_name}/{YYYY-MM-DD}/{filename}.
func fileKey(spec schema.RecordSpec, entityName string, ts time.Time, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", spec.Category, entityName, domain.CollectionDate(ts).Format(domain.DateLayout), filename)
}
