package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gemini/internal/model"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// Batch is a columnar set of observations for one owning entity. Index i of
// every per-observation slice describes observation i; optional slices are
// either empty or as long as Timestamps.
type Batch struct {
	Kind domain.RecordKind `json:"-"`
	// EntityName names the owning sensor, trait, script, procedure or model.
	// For dataset records it names the dataset itself.
	EntityName string `json:"entity_name"`
	// DatasetName defaults to <entity_name>_<YYYY-MM-DD> of the first observation.
	DatasetName    string `json:"dataset_name,omitempty"`
	ExperimentName string `json:"experiment_name,omitempty"`
	SeasonName     string `json:"season_name,omitempty"`
	SiteName       string `json:"site_name,omitempty"`

	Timestamps []time.Time `json:"timestamps"`
	// Data holds JSON payloads; Values holds trait measurements.
	Data   []map[string]any `json:"data,omitempty"`
	Values []float64        `json:"values,omitempty"`

	PlotNumbers       []int64          `json:"plot_numbers,omitempty"`
	PlotRowNumbers    []int64          `json:"plot_row_numbers,omitempty"`
	PlotColumnNumbers []int64          `json:"plot_column_numbers,omitempty"`
	Files             []string         `json:"files,omitempty"`
	Infos             []map[string]any `json:"infos,omitempty"`
}

// Len returns the number of observations.
func (b Batch) Len() int { return len(b.Timestamps) }

// validate checks the column lengths against the timestamps before anything
// is written.
func (b Batch) validate(spec schema.RecordSpec) error {
	fail := func(field string, err error) error {
		return model.ValidationError(spec.Table.Table, "add", field, err)
	}
	if strings.TrimSpace(b.EntityName) == "" {
		return fail(spec.EntityNameColumn(), errors.New("entity name required"))
	}
	n := len(b.Timestamps)
	if n == 0 {
		return fail("timestamp", errors.New("no observations"))
	}
	for i, ts := range b.Timestamps {
		if ts.IsZero() {
			return fail("timestamp", fmt.Errorf("observation %d has no timestamp", i))
		}
	}
	if spec.Scalar {
		if len(b.Values) != n {
			return fail(spec.ValueColumn, fmt.Errorf("%d values for %d timestamps", len(b.Values), n))
		}
		if len(b.Data) > 0 {
			return fail(spec.ValueColumn, errors.New("data payloads are not accepted for scalar records"))
		}
	} else {
		if len(b.Data) != n {
			return fail(spec.ValueColumn, fmt.Errorf("%d payloads for %d timestamps", len(b.Data), n))
		}
		if len(b.Values) > 0 {
			return fail(spec.ValueColumn, errors.New("scalar values are only accepted for trait records"))
		}
	}
	optional := []struct {
		field string
		n     int
	}{
		{"plot_number", len(b.PlotNumbers)},
		{"plot_row_number", len(b.PlotRowNumbers)},
		{"plot_column_number", len(b.PlotColumnNumbers)},
		{"record_file", len(b.Files)},
		{"record_info", len(b.Infos)},
	}
	for _, o := range optional {
		if o.n != 0 && o.n != n {
			return fail(o.field, fmt.Errorf("%d values for %d timestamps", o.n, n))
		}
	}
	return nil
}

func (b Batch) hasPlots() bool {
	return len(b.PlotNumbers) > 0 || len(b.PlotRowNumbers) > 0 || len(b.PlotColumnNumbers) > 0
}

// plotAt returns the plot coordinates of observation i; absent columns are nil.
func (b Batch) plotAt(i int) (number, row, column any) {
	if len(b.PlotNumbers) > 0 {
		number = b.PlotNumbers[i]
	}
	if len(b.PlotRowNumbers) > 0 {
		row = b.PlotRowNumbers[i]
	}
	if len(b.PlotColumnNumbers) > 0 {
		column = b.PlotColumnNumbers[i]
	}
	return number, row, column
}

// Result reports the outcome of Add.
type Result struct {
	DatasetID      string `json:"dataset_id"`
	DatasetName    string `json:"dataset_name"`
	DatasetCreated bool   `json:"dataset_created"`
	// Accepted holds the ids of inserted records; Skipped counts observations
	// that already existed.
	Accepted      []string `json:"accepted"`
	Skipped       int      `json:"skipped"`
	Uploaded      int      `json:"uploaded"`
	UploadSkipped int      `json:"upload_skipped"`
}
