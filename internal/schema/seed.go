package schema

import (
	"context"
	"fmt"

	"gemini/internal/model"
)

type seedRow struct {
	descriptor *model.Descriptor
	args       model.Args
}

func named(d *model.Descriptor, column string, names ...string) []seedRow {
	rows := make([]seedRow, len(names))
	for i, n := range names {
		rows[i] = seedRow{descriptor: d, args: model.Args{column: n}}
	}
	return rows
}

func formats(pairs ...string) []seedRow {
	var rows []seedRow
	for i := 0; i+1 < len(pairs); i += 2 {
		rows = append(rows, seedRow{descriptor: DataFormat, args: model.Args{
			"data_format_name":      pairs[i],
			"data_format_mime_type": pairs[i+1],
		}})
	}
	return rows
}

func taxonomy() []seedRow {
	var rows []seedRow
	rows = append(rows, named(DataType, "data_type_name",
		"Default", "Text", "Web", "Document", "Image", "Audio", "Video", "Binary", "Other")...)
	rows = append(rows, formats(
		"Default", "application/octet-stream",
		"TXT", "text/plain",
		"JSON", "application/json",
		"CSV", "text/csv",
		"TSV", "text/tab-separated-values",
		"XML", "application/xml",
		"HTML", "text/html",
		"PDF", "application/pdf",
		"JPEG", "image/jpeg",
		"PNG", "image/png",
		"GIF", "image/gif",
		"BMP", "image/bmp",
		"TIFF", "image/tiff",
		"WAV", "audio/wav",
		"MP3", "audio/mpeg",
		"MP4", "video/mp4",
		"AVI", "video/x-msvideo",
		"Binary", "application/octet-stream",
		"Other", "application/octet-stream",
	)...)
	rows = append(rows, named(SensorType, "sensor_type_name",
		"Default", "RGB", "NIR", "Thermal", "Multispectral", "Hyperspectral", "Depth", "LiDAR", "Weather", "GPS", "Calibration", "Other")...)
	rows = append(rows, named(TraitLevel, "trait_level_name", "Default", "Plot", "Plant")...)
	rows = append(rows, named(DatasetType, "dataset_type_name",
		"Default", "Sensor", "Trait", "Procedure", "Script", "Model", "Other")...)
	return rows
}

// Seed get-or-creates the taxonomy rows (data types, data formats, sensor
// types, trait levels, dataset types). It returns the number created.
func Seed(ctx context.Context, c *Catalog) (int, error) {
	created := 0
	for _, row := range taxonomy() {
		b, ok := c.Entity(row.descriptor.Name)
		if !ok {
			return created, fmt.Errorf("seed: no model for %s", row.descriptor.Name)
		}
		_, isNew, err := b.GetOrCreate(ctx, row.args)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", row.descriptor.Table, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
