package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gemini/internal/records"
	"gemini/pkg/domain"
)

// Format is an export file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatNDJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatNDJSON {
		return "application/x-ndjson"
	}
	return "text/csv"
}

// Source streams records of one kind.
type Source interface {
	Search(ctx context.Context, kind domain.RecordKind, q records.Query) (*records.RecordCursor, error)
}

// Columns are the CSV header, in order.
var Columns = []string{
	"id", "timestamp", "collection_date", "entity_name", "dataset_name",
	"experiment_name", "season_name", "site_name",
	"plot_number", "plot_row_number", "plot_column_number",
	"value", "data", "file", "file_url", "record_info",
}

// Write streams the records matching q to w in format f and returns the
// number of records written.
func Write(ctx context.Context, src Source, kind domain.RecordKind, q records.Query, f Format, w io.Writer) (int, error) {
	cur, err := src.Search(ctx, kind, q)
	if err != nil {
		return 0, err
	}
	defer func() { _ = cur.Close() }()

	switch f {
	case FormatCSV:
		return writeCSV(cur, w)
	case FormatNDJSON:
		return writeNDJSON(cur, w)
	}
	return 0, fmt.Errorf("unsupported export format %q", f)
}

func writeCSV(cur *records.RecordCursor, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}
	n := 0
	for rec, err := range cur.All() {
		if err != nil {
			return n, err
		}
		if err := cw.Write(csvRow(rec)); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

func writeNDJSON(cur *records.RecordCursor, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	for rec, err := range cur.All() {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

func csvRow(rec domain.Record) []string {
	name := rec.EntityName
	if rec.Kind == domain.KindDataset {
		name = rec.DatasetName
	}
	value := ""
	if rec.Value != nil {
		value = strconv.FormatFloat(*rec.Value, 'f', -1, 64)
	}
	info := ""
	if rec.Info != nil && rec.Info.Len() > 0 {
		if b, err := json.Marshal(rec.Info); err == nil {
			info = string(b)
		}
	}
	return []string{
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.CollectionDate,
		name,
		rec.DatasetName,
		rec.ExperimentName,
		rec.SeasonName,
		rec.SiteName,
		formatInt(rec.PlotNumber),
		formatInt(rec.PlotRowNumber),
		formatInt(rec.PlotColumnNumber),
		value,
		string(rec.Data),
		rec.File,
		rec.FileURL,
		info,
	}
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
