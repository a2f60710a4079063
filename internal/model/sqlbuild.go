package model

import (
	"fmt"
	"sort"
	"strings"

	"gemini/internal/persistence"
)

// builder accumulates bind arguments and renders dialect placeholders.
type builder struct {
	dialect persistence.Dialect
	args    []any
}

func newBuilder(d persistence.Dialect) *builder {
	return &builder{dialect: d}
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// value binds v for column c, wrapping JSON text so the store parses it.
func (b *builder) value(c Column, v any) string {
	ph := b.arg(v)
	if c.Type == TypeJSON {
		return b.dialect.JSONValue(ph)
	}
	return ph
}

func quote(name string) string { return persistence.QuoteIdent(name) }

func selectList(d *Descriptor) string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = quote(c.Name)
	}
	return strings.Join(cols, ", ")
}

// where renders the predicates of f. Keys are visited in sorted order so the
// generated SQL is deterministic.
func (b *builder) where(d *Descriptor, f Filter) ([]string, error) {
	var preds []string
	for _, name := range sortedKeys(f.Equal) {
		c, ok := d.Column(name)
		if !ok {
			return nil, ValidationError(d.Table, "filter", name, fmt.Errorf("unknown column"))
		}
		v := f.Equal[name]
		if c.Type == TypeJSON {
			obj, ok := asObject(v)
			if !ok {
				return nil, ValidationError(d.Table, "filter", name, fmt.Errorf("JSON filters must be objects"))
			}
			clause, err := b.dialect.JSONContains(quote(name), obj, b.arg)
			if err != nil {
				return nil, ValidationError(d.Table, "filter", name, err)
			}
			preds = append(preds, clause)
			continue
		}
		if v == nil {
			preds = append(preds, quote(name)+" IS NULL")
			continue
		}
		cv, err := Coerce(c, v)
		if err != nil {
			return nil, ValidationError(d.Table, "filter", name, err)
		}
		preds = append(preds, quote(name)+" = "+b.arg(cv))
	}
	rangeCols := make([]string, 0, len(f.Ranges))
	for name := range f.Ranges {
		rangeCols = append(rangeCols, name)
	}
	sort.Strings(rangeCols)
	for _, name := range rangeCols {
		c, ok := d.Column(name)
		if !ok || c.Type == TypeJSON {
			return nil, ValidationError(d.Table, "filter", name, fmt.Errorf("column cannot be range filtered"))
		}
		r := f.Ranges[name]
		if r.From != nil {
			cv, err := Coerce(c, r.From)
			if err != nil {
				return nil, ValidationError(d.Table, "filter", name, err)
			}
			preds = append(preds, quote(name)+" >= "+b.arg(cv))
		}
		if r.To != nil {
			cv, err := Coerce(c, r.To)
			if err != nil {
				return nil, ValidationError(d.Table, "filter", name, err)
			}
			preds = append(preds, quote(name)+" <= "+b.arg(cv))
		}
	}
	return preds, nil
}

func sortedKeys(a Args) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinWhere(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}
