// Package domain holds the GEMINI value types shared by the storage, ingestion
// and API layers.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordKind names one columnar record family.
type RecordKind string

const (
	KindSensor    RecordKind = "sensor"
	KindTrait     RecordKind = "trait"
	KindScript    RecordKind = "script"
	KindProcedure RecordKind = "procedure"
	KindModel     RecordKind = "model"
	KindDataset   RecordKind = "dataset"
)

// RecordKinds lists every kind in a stable order.
func RecordKinds() []RecordKind {
	return []RecordKind{KindSensor, KindTrait, KindScript, KindProcedure, KindModel, KindDataset}
}

// ParseRecordKind validates a kind name.
func ParseRecordKind(s string) (RecordKind, error) {
	for _, k := range RecordKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// DateLayout is the calendar-date format used for collection dates and
// default dataset names.
const DateLayout = "2006-01-02"

// CollectionDate truncates t to its UTC calendar day.
func CollectionDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Record is one fully resolved observation read back from a record view.
// Entity fields are empty for dataset records, whose owner is the dataset.
type Record struct {
	ID               string          `json:"id"`
	Kind             RecordKind      `json:"kind"`
	Timestamp        time.Time       `json:"timestamp"`
	CollectionDate   string          `json:"collection_date"`
	EntityID         string          `json:"entity_id,omitempty"`
	EntityName       string          `json:"entity_name,omitempty"`
	DatasetID        string          `json:"dataset_id"`
	DatasetName      string          `json:"dataset_name"`
	ExperimentID     string          `json:"experiment_id,omitempty"`
	ExperimentName   string          `json:"experiment_name,omitempty"`
	SeasonID         string          `json:"season_id,omitempty"`
	SeasonName       string          `json:"season_name,omitempty"`
	SiteID           string          `json:"site_id,omitempty"`
	SiteName         string          `json:"site_name,omitempty"`
	PlotID           string          `json:"plot_id,omitempty"`
	PlotNumber       *int64          `json:"plot_number,omitempty"`
	PlotRowNumber    *int64          `json:"plot_row_number,omitempty"`
	PlotColumnNumber *int64          `json:"plot_column_number,omitempty"`
	PlotGeometry     json.RawMessage `json:"plot_geometry_info,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	Value            *float64        `json:"value,omitempty"`
	File             string          `json:"file,omitempty"`
	FileURL          string          `json:"file_url,omitempty"`
	Info             *Info           `json:"record_info"`
}
