package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gemini/internal/persistence"
	"gemini/pkg/domain"
)

// AssociationDescriptor describes a junction table whose primary key is the
// pair of foreign keys and which carries an `info` JSON bag.
type AssociationDescriptor struct {
	Table     string
	Left      string
	LeftType  Type
	Right     string
	RightType Type
}

// Association links rows of two tables through a junction table.
type Association struct {
	db   *persistence.DB
	desc AssociationDescriptor
	opts Options
	log  *slog.Logger
}

// NewAssociation returns an Association over desc.
func NewAssociation(db *persistence.DB, desc AssociationDescriptor, opts Options) *Association {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Association{db: db, desc: desc, opts: opts, log: log.With("table", desc.Table)}
}

// Descriptor returns the junction table descriptor.
func (a *Association) Descriptor() AssociationDescriptor { return a.desc }

func (a *Association) keys(op string, left, right any) (any, any, error) {
	l, err := Coerce(Column{Name: a.desc.Left, Type: a.desc.LeftType}, left)
	if err != nil {
		return nil, nil, ValidationError(a.desc.Table, op, a.desc.Left, err)
	}
	r, err := Coerce(Column{Name: a.desc.Right, Type: a.desc.RightType}, right)
	if err != nil {
		return nil, nil, ValidationError(a.desc.Table, op, a.desc.Right, err)
	}
	return l, r, nil
}

func (a *Association) observe(op string, start time.Time, err error) {
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveOperation(a.desc.Table, op, time.Since(start), err)
	}
}

// Link creates the (left, right) pair when absent and reports whether it
// was created. An existing link is left untouched.
func (a *Association) Link(ctx context.Context, left, right any, info *domain.Info) (created bool, err error) {
	defer func(start time.Time) { a.observe("link", start, err) }(time.Now())
	l, r, err := a.keys("link", left, right)
	if err != nil {
		return false, err
	}
	infoJSON, err := info.MarshalJSON()
	if err != nil {
		return false, ValidationError(a.desc.Table, "link", "info", err)
	}
	bld := newBuilder(a.db.Dialect)
	q := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s) %s",
		quote(a.desc.Table), quote(a.desc.Left), quote(a.desc.Right), quote("info"),
		bld.arg(l), bld.arg(r), a.db.Dialect.JSONValue(bld.arg(string(infoJSON))),
		a.db.Dialect.OnConflictDoNothing(""))
	err = a.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, bld.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return false, classify(a.db.Dialect, a.desc.Table, "link", err)
	}
	if created {
		a.log.Debug("linked", a.desc.Left, l, a.desc.Right, r)
	}
	return created, nil
}

// Unlink removes the pair and reports whether it existed.
func (a *Association) Unlink(ctx context.Context, left, right any) (removed bool, err error) {
	defer func(start time.Time) { a.observe("unlink", start, err) }(time.Now())
	l, r, err := a.keys("unlink", left, right)
	if err != nil {
		return false, err
	}
	bld := newBuilder(a.db.Dialect)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		quote(a.desc.Table), quote(a.desc.Left), bld.arg(l), quote(a.desc.Right), bld.arg(r))
	err = a.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, bld.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, classify(a.db.Dialect, a.desc.Table, "unlink", err)
	}
	return removed, nil
}

// Exists reports whether the pair is linked.
func (a *Association) Exists(ctx context.Context, left, right any) (bool, error) {
	l, r, err := a.keys("exists", left, right)
	if err != nil {
		return false, err
	}
	bld := newBuilder(a.db.Dialect)
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s AND %s = %s",
		quote(a.desc.Table), quote(a.desc.Left), bld.arg(l), quote(a.desc.Right), bld.arg(r))
	var n int64
	if err := a.db.SQL.QueryRowContext(ctx, q, bld.args...).Scan(&n); err != nil {
		return false, classify(a.db.Dialect, a.desc.Table, "exists", err)
	}
	return n > 0, nil
}

// Info returns the info bag of a linked pair.
func (a *Association) Info(ctx context.Context, left, right any) (*domain.Info, bool, error) {
	l, r, err := a.keys("info", left, right)
	if err != nil {
		return nil, false, err
	}
	bld := newBuilder(a.db.Dialect)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s",
		quote("info"), quote(a.desc.Table), quote(a.desc.Left), bld.arg(l), quote(a.desc.Right), bld.arg(r))
	c := &cell{typ: TypeJSON}
	err = a.db.SQL.QueryRowContext(ctx, q, bld.args...).Scan(c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(a.db.Dialect, a.desc.Table, "info", err)
	}
	raw, _ := c.v.(json.RawMessage)
	info, err := domain.ParseInfo(raw)
	if err != nil {
		return nil, false, NewError(KindInternal, a.desc.Table, "info", err)
	}
	return info, true, nil
}

// RightOf returns the right-hand ids linked to left.
func (a *Association) RightOf(ctx context.Context, left any) ([]any, error) {
	l, err := Coerce(Column{Name: a.desc.Left, Type: a.desc.LeftType}, left)
	if err != nil {
		return nil, ValidationError(a.desc.Table, "right_of", a.desc.Left, err)
	}
	return a.ids(ctx, "right_of", a.desc.Right, a.desc.RightType, a.desc.Left, l)
}

// LeftOf returns the left-hand ids linked to right.
func (a *Association) LeftOf(ctx context.Context, right any) ([]any, error) {
	r, err := Coerce(Column{Name: a.desc.Right, Type: a.desc.RightType}, right)
	if err != nil {
		return nil, ValidationError(a.desc.Table, "left_of", a.desc.Right, err)
	}
	return a.ids(ctx, "left_of", a.desc.Left, a.desc.LeftType, a.desc.Right, r)
}

func (a *Association) ids(ctx context.Context, op, col string, typ Type, by string, v any) ([]any, error) {
	bld := newBuilder(a.db.Dialect)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		quote(col), quote(a.desc.Table), quote(by), bld.arg(v), quote(col))
	rs, err := a.db.SQL.QueryContext(ctx, q, bld.args...)
	if err != nil {
		return nil, classify(a.db.Dialect, a.desc.Table, op, err)
	}
	defer func() { _ = rs.Close() }()
	var out []any
	for rs.Next() {
		c := &cell{typ: typ}
		if err := rs.Scan(c); err != nil {
			return nil, classify(a.db.Dialect, a.desc.Table, op, err)
		}
		out = append(out, c.v)
	}
	if err := rs.Err(); err != nil {
		return nil, classify(a.db.Dialect, a.desc.Table, op, err)
	}
	return out, nil
}
