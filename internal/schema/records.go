package schema

import (
	"gemini/internal/model"
	"gemini/pkg/domain"
)

// RecordSpec binds one record kind to its table, read view and owning entity.
type RecordSpec struct {
	Kind  domain.RecordKind
	Table *model.Descriptor
	View  *model.Descriptor
	// Entity owns the records; nil for dataset records, which the dataset owns.
	Entity *model.Descriptor
	// Prefix names the entity columns (<prefix>_id, <prefix>_name).
	Prefix string
	// ValueColumn holds the measurement: a JSON payload, or a float for traits.
	ValueColumn string
	Scalar      bool
	HasPlot     bool
	// DatasetLink is the junction table linking the entity to its datasets.
	DatasetLink string
	// ExperimentLink is the junction table linking experiments to the entity.
	ExperimentLink string
	// Category is the first segment of uploaded file keys.
	Category string
}

// EntityIDColumn returns the column holding the owning entity id.
func (s RecordSpec) EntityIDColumn() string {
	if s.Entity == nil {
		return "dataset_id"
	}
	return s.Prefix + "_id"
}

// EntityNameColumn returns the column holding the owning entity name.
func (s RecordSpec) EntityNameColumn() string {
	if s.Entity == nil {
		return "dataset_name"
	}
	return s.Prefix + "_name"
}

// naturalKey lists the uniqueness tuple columns of a record table.
func recordKey(prefix string, owned, plot bool) []string {
	key := []string{"timestamp", "collection_date"}
	if owned {
		key = append(key, prefix+"_id", prefix+"_name")
	}
	key = append(key, "dataset_id", "dataset_name",
		"experiment_id", "experiment_name", "season_id", "season_name", "site_id", "site_name")
	if plot {
		key = append(key, "plot_id", "plot_number", "plot_row_number", "plot_column_number")
	}
	return key
}

func recordColumns(prefix string, owned, plot bool, value model.Column, view bool) []model.Column {
	cols := []model.Column{
		id("id"),
		col("timestamp", model.TypeTimestamp),
		date("collection_date"),
	}
	if owned {
		cols = append(cols, id(prefix+"_id"), text(prefix+"_name"))
	}
	cols = append(cols,
		id("dataset_id"), text("dataset_name"),
		id("experiment_id"), text("experiment_name"),
		id("season_id"), text("season_name"),
		id("site_id"), text("site_name"),
	)
	if plot {
		cols = append(cols, id("plot_id"), integer("plot_number"), integer("plot_row_number"), integer("plot_column_number"))
		if view {
			cols = append(cols, jsonb("plot_geometry_info"))
		}
	}
	return append(cols, value, text("record_file"), jsonb("record_info"))
}

func record(kind domain.RecordKind, entity *model.Descriptor, valueType model.Type, plot bool) RecordSpec {
	prefix := string(kind)
	owned := entity != nil
	valueColumn := prefix + "_data"
	if valueType == model.TypeFloat {
		valueColumn = prefix + "_value"
	}
	value := col(valueColumn, valueType)
	table := prefix + "_records"
	spec := RecordSpec{
		Kind: kind,
		Table: &model.Descriptor{
			Name:             prefix + "_record",
			Table:            table,
			IDColumn:         "id",
			IDKind:           model.IDUUID,
			Columns:          recordColumns(prefix, owned, plot, value, false),
			NaturalKey:       recordKey(prefix, owned, plot),
			UniqueConstraint: table + "_unique",
		},
		View: &model.Descriptor{
			Name:     prefix + "_record_view",
			Table:    table + "_view",
			IDColumn: "id",
			IDKind:   model.IDUUID,
			Columns:  recordColumns(prefix, owned, plot, value, true),
			ReadOnly: true,
		},
		Entity:      entity,
		Prefix:      prefix,
		ValueColumn: valueColumn,
		Scalar:      valueType == model.TypeFloat,
		HasPlot:     plot,
		Category:    prefix + "_data",
	}
	if owned {
		spec.DatasetLink = prefix + "_datasets"
		spec.ExperimentLink = "experiment_" + prefix + "s"
	}
	return spec
}

var recordSpecs = []RecordSpec{
	record(domain.KindSensor, Sensor, model.TypeJSON, true),
	record(domain.KindTrait, Trait, model.TypeFloat, true),
	record(domain.KindScript, Script, model.TypeJSON, false),
	record(domain.KindProcedure, Procedure, model.TypeJSON, false),
	record(domain.KindModel, Model, model.TypeJSON, false),
	record(domain.KindDataset, nil, model.TypeJSON, false),
}

// Records returns every record spec in kind order.
func Records() []RecordSpec {
	return append([]RecordSpec(nil), recordSpecs...)
}

// Record returns the spec of kind.
func Record(kind domain.RecordKind) (RecordSpec, bool) {
	for _, s := range recordSpecs {
		if s.Kind == kind {
			return s, true
		}
	}
	return RecordSpec{}, false
}

func link(table, left string, leftType model.Type, right string, rightType model.Type) model.AssociationDescriptor {
	return model.AssociationDescriptor{Table: table, Left: left, LeftType: leftType, Right: right, RightType: rightType}
}

var associations = []model.AssociationDescriptor{
	link("experiment_sites", "experiment_id", model.TypeUUID, "site_id", model.TypeUUID),
	link("experiment_sensors", "experiment_id", model.TypeUUID, "sensor_id", model.TypeUUID),
	link("experiment_traits", "experiment_id", model.TypeUUID, "trait_id", model.TypeUUID),
	link("experiment_cultivars", "experiment_id", model.TypeUUID, "cultivar_id", model.TypeUUID),
	link("experiment_datasets", "experiment_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("experiment_scripts", "experiment_id", model.TypeUUID, "script_id", model.TypeUUID),
	link("experiment_procedures", "experiment_id", model.TypeUUID, "procedure_id", model.TypeUUID),
	link("experiment_models", "experiment_id", model.TypeUUID, "model_id", model.TypeUUID),
	link("sensor_platform_sensors", "sensor_platform_id", model.TypeUUID, "sensor_id", model.TypeUUID),
	link("sensor_datasets", "sensor_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("trait_datasets", "trait_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("trait_sensors", "trait_id", model.TypeUUID, "sensor_id", model.TypeUUID),
	link("script_datasets", "script_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("procedure_datasets", "procedure_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("model_datasets", "model_id", model.TypeUUID, "dataset_id", model.TypeUUID),
	link("plot_cultivars", "plot_id", model.TypeUUID, "cultivar_id", model.TypeUUID),
}

// Associations returns every junction table descriptor.
func Associations() []model.AssociationDescriptor {
	return append([]model.AssociationDescriptor(nil), associations...)
}
