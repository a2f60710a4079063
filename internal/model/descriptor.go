// Package model implements the generic entity-model layer: one descriptor-driven
// CRUD and query implementation shared by every GEMINI entity, record table and
// read view.
package model

import (
	"fmt"
	"strings"
)

// Type is the storage type of a column. It drives value coercion on writes
// and scanning on reads.
type Type int

const (
	TypeText Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeDate
	TypeUUID
	TypeJSON
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// IDKind selects how surrogate ids are produced.
type IDKind int

const (
	// IDUUID ids are generated in process with google/uuid.
	IDUUID IDKind = iota
	// IDSerial ids are assigned by the store (identity / autoincrement).
	IDSerial
)

// Column describes one persisted column.
type Column struct {
	Name string
	Type Type
	// Managed columns are maintained by the store and never written by callers.
	Managed bool
}

// Descriptor parameterises a Base over one table or view.
type Descriptor struct {
	// Name is the logical type name, e.g. "sensor" or "sensor_record".
	Name string
	// Table is the table or view the descriptor reads and writes.
	Table    string
	IDColumn string
	IDKind   IDKind
	Columns  []Column
	// NaturalKey lists the columns of the declared uniqueness invariant.
	NaturalKey []string
	// UniqueConstraint names the constraint that enforces NaturalKey.
	UniqueConstraint string
	// Timestamps marks tables carrying created_at/updated_at.
	Timestamps bool
	// ReadOnly descriptors (views) reject writes.
	ReadOnly bool
}

// Column looks up a column by name.
func (d *Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether name is a column of the descriptor.
func (d *Descriptor) HasColumn(name string) bool {
	_, ok := d.Column(name)
	return ok
}

// ColumnNames returns every column name in declaration order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// JSONColumns returns the names of the JSON-typed columns.
func (d *Descriptor) JSONColumns() []string {
	var names []string
	for _, c := range d.Columns {
		if c.Type == TypeJSON {
			names = append(names, c.Name)
		}
	}
	return names
}

// IsNaturalKey reports whether name participates in the natural key.
func (d *Descriptor) IsNaturalKey(name string) bool {
	for _, k := range d.NaturalKey {
		if k == name {
			return true
		}
	}
	return false
}

// Validate checks the descriptor is internally consistent.
func (d *Descriptor) Validate() error {
	if d.Table == "" {
		return fmt.Errorf("descriptor %q: table required", d.Name)
	}
	if d.IDColumn == "" {
		return fmt.Errorf("descriptor %q: id column required", d.Name)
	}
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if seen[c.Name] {
			return fmt.Errorf("descriptor %q: duplicate column %q", d.Name, c.Name)
		}
		seen[c.Name] = true
	}
	if !seen[d.IDColumn] {
		return fmt.Errorf("descriptor %q: id column %q not declared", d.Name, d.IDColumn)
	}
	for _, k := range d.NaturalKey {
		if !seen[k] {
			return fmt.Errorf("descriptor %q: natural key column %q not declared", d.Name, k)
		}
	}
	return nil
}

func (d *Descriptor) String() string {
	return d.Name + "(" + strings.Join(d.ColumnNames(), ", ") + ")"
}
