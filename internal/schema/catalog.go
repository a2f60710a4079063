package schema

import (
	"sort"
	"strings"

	"gemini/internal/model"
	"gemini/internal/persistence"
	"gemini/pkg/domain"
)

// Catalog binds every descriptor to one store handle and indexes the
// resulting models by name.
type Catalog struct {
	db       *persistence.DB
	entities map[string]*model.Base
	tables   map[string]*model.Base
	records  map[domain.RecordKind]*model.Base
	views    map[domain.RecordKind]*model.View
	links    map[string]*model.Association
}

// NewCatalog builds models for every descriptor over db.
func NewCatalog(db *persistence.DB, opts model.Options) *Catalog {
	c := &Catalog{
		db:       db,
		entities: make(map[string]*model.Base),
		tables:   make(map[string]*model.Base),
		records:  make(map[domain.RecordKind]*model.Base),
		views:    make(map[domain.RecordKind]*model.View),
		links:    make(map[string]*model.Association),
	}
	for _, d := range Entities() {
		b := model.New(db, d, opts)
		c.entities[d.Name] = b
		c.tables[d.Table] = b
	}
	for _, spec := range recordSpecs {
		c.records[spec.Kind] = model.New(db, spec.Table, opts)
		c.views[spec.Kind] = model.NewView(db, spec.View, opts)
	}
	for _, a := range associations {
		c.links[a.Table] = model.NewAssociation(db, a, opts)
	}
	return c
}

// DB returns the store handle.
func (c *Catalog) DB() *persistence.DB { return c.db }

// Entity returns the model for an entity by type name ("sensor") or table
// name ("sensors"). Dashes are accepted in place of underscores.
func (c *Catalog) Entity(name string) (*model.Base, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	if b, ok := c.entities[name]; ok {
		return b, true
	}
	b, ok := c.tables[name]
	return b, ok
}

// EntityNames returns the entity type names in sorted order.
func (c *Catalog) EntityNames() []string {
	names := make([]string, 0, len(c.entities))
	for n := range c.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Records returns the write model of a record kind.
func (c *Catalog) Records(kind domain.RecordKind) (*model.Base, bool) {
	b, ok := c.records[kind]
	return b, ok
}

// View returns the read view of a record kind.
func (c *Catalog) View(kind domain.RecordKind) (*model.View, bool) {
	v, ok := c.views[kind]
	return v, ok
}

// Association returns the junction table model by table name.
func (c *Catalog) Association(table string) (*model.Association, bool) {
	a, ok := c.links[table]
	return a, ok
}

func (c *Catalog) Experiments() *model.Base { return c.entities[Experiment.Name] }
func (c *Catalog) Seasons() *model.Base     { return c.entities[Season.Name] }
func (c *Catalog) Sites() *model.Base       { return c.entities[Site.Name] }
func (c *Catalog) Datasets() *model.Base    { return c.entities[Dataset.Name] }
func (c *Catalog) Plots() *model.Base       { return c.entities[Plot.Name] }
