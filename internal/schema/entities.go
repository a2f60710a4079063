// Package schema declares the GEMINI descriptors (entities, record tables,
// read views and junction tables) and the Catalog that binds them to a store.
package schema

import (
	"gemini/internal/model"
)

func col(name string, t model.Type) model.Column { return model.Column{Name: name, Type: t} }

func text(name string) model.Column { return col(name, model.TypeText) }
func integer(name string) model.Column { return col(name, model.TypeInt) }
func id(name string) model.Column { return col(name, model.TypeUUID) }
func jsonb(name string) model.Column { return col(name, model.TypeJSON) }
func date(name string) model.Column { return col(name, model.TypeDate) }

// entity builds a descriptor with the surrogate id, the given columns and the
// store-managed timestamps. The unique constraint is named <table>_unique.
func entity(name, table string, idKind model.IDKind, cols []model.Column, key ...string) *model.Descriptor {
	idType := model.TypeUUID
	if idKind == model.IDSerial {
		idType = model.TypeInt
	}
	all := make([]model.Column, 0, len(cols)+3)
	all = append(all, col("id", idType))
	all = append(all, cols...)
	all = append(all,
		model.Column{Name: "created_at", Type: model.TypeTimestamp, Managed: true},
		model.Column{Name: "updated_at", Type: model.TypeTimestamp, Managed: true},
	)
	return &model.Descriptor{
		Name:             name,
		Table:            table,
		IDColumn:         "id",
		IDKind:           idKind,
		Columns:          all,
		NaturalKey:       key,
		UniqueConstraint: table + "_unique",
		Timestamps:       true,
	}
}

// Entity descriptors. Names are the singular type names used by the API.
var (
	DataType = entity("data_type", "data_types", model.IDSerial, []model.Column{
		text("data_type_name"), jsonb("data_type_info"),
	}, "data_type_name")

	DataFormat = entity("data_format", "data_formats", model.IDSerial, []model.Column{
		text("data_format_name"), text("data_format_mime_type"), jsonb("data_format_info"),
	}, "data_format_name")

	SensorType = entity("sensor_type", "sensor_types", model.IDSerial, []model.Column{
		text("sensor_type_name"), jsonb("sensor_type_info"),
	}, "sensor_type_name")

	TraitLevel = entity("trait_level", "trait_levels", model.IDSerial, []model.Column{
		text("trait_level_name"), jsonb("trait_level_info"),
	}, "trait_level_name")

	DatasetType = entity("dataset_type", "dataset_types", model.IDSerial, []model.Column{
		text("dataset_type_name"), jsonb("dataset_type_info"),
	}, "dataset_type_name")

	Experiment = entity("experiment", "experiments", model.IDUUID, []model.Column{
		text("experiment_name"), date("experiment_start_date"), date("experiment_end_date"), jsonb("experiment_info"),
	}, "experiment_name")

	Season = entity("season", "seasons", model.IDUUID, []model.Column{
		id("experiment_id"), text("season_name"), date("season_start_date"), date("season_end_date"), jsonb("season_info"),
	}, "experiment_id", "season_name")

	Site = entity("site", "sites", model.IDUUID, []model.Column{
		text("site_name"), text("site_city"), text("site_state"), text("site_country"), jsonb("site_info"),
	}, "site_name")

	Cultivar = entity("cultivar", "cultivars", model.IDUUID, []model.Column{
		text("cultivar_accession"), text("cultivar_population"), jsonb("cultivar_info"),
	}, "cultivar_accession", "cultivar_population")

	SensorPlatform = entity("sensor_platform", "sensor_platforms", model.IDUUID, []model.Column{
		text("sensor_platform_name"), jsonb("sensor_platform_info"),
	}, "sensor_platform_name")

	Sensor = entity("sensor", "sensors", model.IDUUID, []model.Column{
		text("sensor_name"), integer("sensor_type_id"), integer("sensor_data_type_id"), integer("sensor_data_format_id"), jsonb("sensor_info"),
	}, "sensor_name")

	Trait = entity("trait", "traits", model.IDUUID, []model.Column{
		text("trait_name"), text("trait_units"), integer("trait_level_id"), jsonb("trait_metrics"), jsonb("trait_info"),
	}, "trait_name")

	Dataset = entity("dataset", "datasets", model.IDUUID, []model.Column{
		text("dataset_name"), date("collection_date"), integer("dataset_type_id"), jsonb("dataset_info"),
	}, "dataset_name")

	Script = entity("script", "scripts", model.IDUUID, []model.Column{
		text("script_name"), text("script_url"), text("script_extension"), jsonb("script_info"),
	}, "script_name", "script_url")

	Procedure = entity("procedure", "procedures", model.IDUUID, []model.Column{
		text("procedure_name"), jsonb("procedure_info"),
	}, "procedure_name")

	Model = entity("model", "models", model.IDUUID, []model.Column{
		text("model_name"), text("model_url"), jsonb("model_info"),
	}, "model_name", "model_url")

	Plot = entity("plot", "plots", model.IDUUID, []model.Column{
		id("experiment_id"), id("season_id"), id("site_id"),
		integer("plot_number"), integer("plot_row_number"), integer("plot_column_number"),
		jsonb("plot_geometry_info"), jsonb("plot_info"),
	}, "experiment_id", "season_id", "site_id", "plot_number", "plot_row_number", "plot_column_number")

	Plant = entity("plant", "plants", model.IDUUID, []model.Column{
		id("plot_id"), integer("plant_number"), id("cultivar_id"), jsonb("plant_info"),
	}, "plot_id", "plant_number")

	Resource = entity("resource", "resources", model.IDUUID, []model.Column{
		text("resource_uri"), text("resource_file_name"), col("is_external", model.TypeBool),
		id("resource_experiment_id"), integer("resource_data_format_id"), jsonb("resource_info"),
	}, "resource_uri", "resource_file_name")
)

// Entities lists every entity descriptor in dependency order.
func Entities() []*model.Descriptor {
	return []*model.Descriptor{
		DataType, DataFormat, SensorType, TraitLevel, DatasetType,
		Experiment, Season, Site, Cultivar, SensorPlatform, Sensor, Trait,
		Dataset, Script, Procedure, Model, Plot, Plant, Resource,
	}
}
