package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gemini/internal/persistence"
)

// DefaultPartitionSize is the number of rows fetched per stream partition.
const DefaultPartitionSize = 1000

// ErrUnknownField is the cause of strict-mode validation failures.
var ErrUnknownField = errors.New("unknown field")

// ErrReadOnly is returned by write operations on view descriptors.
var ErrReadOnly = errors.New("read-only descriptor")

// Observer receives operation outcomes, typically to export metrics.
type Observer interface {
	ObserveOperation(table, op string, elapsed time.Duration, err error)
	ObserveBulk(table string, accepted, skipped int)
	ObserveRefresh(view string, elapsed time.Duration, err error)
}

// Options tunes a Base.
type Options struct {
	// Strict rejects unknown fields instead of dropping them.
	Strict bool
	// PartitionSize overrides DefaultPartitionSize for streams.
	PartitionSize int
	Logger        *slog.Logger
	Observer      Observer
}

// Base is the generic CRUD and query implementation for one descriptor.
type Base struct {
	db   *persistence.DB
	desc *Descriptor
	opts Options
	log  *slog.Logger
}

// New returns a Base over desc. It panics if the descriptor is inconsistent,
// since descriptors are static program data.
func New(db *persistence.DB, desc *Descriptor, opts Options) *Base {
	if err := desc.Validate(); err != nil {
		panic(err)
	}
	if opts.PartitionSize <= 0 {
		opts.PartitionSize = DefaultPartitionSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Base{db: db, desc: desc, opts: opts, log: log.With("table", desc.Table)}
}

// Descriptor returns the descriptor this Base operates on.
func (b *Base) Descriptor() *Descriptor { return b.desc }

// DB returns the underlying store handle.
func (b *Base) DB() *persistence.DB { return b.db }

func (b *Base) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	elapsed := time.Since(start)
	if b.opts.Observer != nil {
		b.opts.Observer.ObserveOperation(b.desc.Table, op, elapsed, err)
	}
	if err != nil {
		b.log.Debug("model operation failed", "op", op, "elapsed", elapsed, "error", err)
		return
	}
	b.log.Debug("model operation", "op", op, "elapsed", elapsed)
}

func (b *Base) fail(kind ErrorKind, op string, cause error) error {
	return NewError(kind, b.desc.Table, op, cause)
}

// ValidateFields drops nil values, empty JSON objects and keys that are not
// columns. In strict mode unknown keys are a KindValidation error instead.
// Values wrapped in Keep are unwrapped and never dropped.
func (b *Base) ValidateFields(args Args) (Args, error) {
	out := make(Args, len(args))
	for name, v := range args {
		c, ok := b.desc.Column(name)
		if !ok {
			if b.opts.Strict {
				return nil, ValidationError(b.desc.Table, "validate", name, ErrUnknownField)
			}
			b.log.Debug("dropping unknown field", "field", name)
			continue
		}
		if k, ok := v.(Keep); ok {
			out[name] = k.Value
			continue
		}
		if isEmpty(c, v) {
			continue
		}
		out[name] = v
	}
	return out, nil
}

// writable removes store-managed columns from validated args.
func (b *Base) writable(args Args) Args {
	out := make(Args, len(args))
	for name, v := range args {
		if c, _ := b.desc.Column(name); c.Managed {
			continue
		}
		out[name] = v
	}
	return out
}

// prepareInsert validates and coerces one row for insertion, assigning a
// UUID when the descriptor uses generated ids.
func (b *Base) prepareInsert(op string, args Args) (Args, error) {
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, err
	}
	vals = b.writable(vals)
	if b.desc.IDKind == IDUUID {
		if _, ok := vals[b.desc.IDColumn]; !ok {
			vals[b.desc.IDColumn] = uuid.NewString()
		}
	}
	for name, v := range vals {
		c, _ := b.desc.Column(name)
		cv, err := Coerce(c, v)
		if err != nil {
			return nil, ValidationError(b.desc.Table, op, name, err)
		}
		vals[name] = cv
	}
	return vals, nil
}

// Create inserts one row and returns it as stored.
func (b *Base) Create(ctx context.Context, args Args) (row Row, err error) {
	defer b.observe("create", time.Now(), &err)
	if b.desc.ReadOnly {
		return nil, b.fail(KindValidation, "create", ErrReadOnly)
	}
	vals, err := b.prepareInsert("create", args)
	if err != nil {
		return nil, err
	}
	bld := newBuilder(b.db.Dialect)
	names := sortedKeys(vals)
	cols := make([]string, len(names))
	phs := make([]string, len(names))
	for i, name := range names {
		c, _ := b.desc.Column(name)
		cols[i] = quote(name)
		phs[i] = bld.value(c, vals[name])
	}
	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quote(b.desc.Table), selectList(b.desc))
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(b.desc.Table), strings.Join(cols, ", "), strings.Join(phs, ", "), selectList(b.desc))
	}
	err = b.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := b.queryRows(ctx, tx, q, bld.args)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errors.New("insert returned no row")
		}
		row = rows[0]
		return nil
	})
	if err != nil {
		return nil, classify(b.db.Dialect, b.desc.Table, "create", err)
	}
	return row, nil
}

// Get returns the row with the given id.
func (b *Base) Get(ctx context.Context, id any) (row Row, found bool, err error) {
	defer b.observe("get", time.Now(), &err)
	idCol, _ := b.desc.Column(b.desc.IDColumn)
	idv, cerr := Coerce(idCol, id)
	if cerr != nil {
		return nil, false, nil
	}
	rows, err := b.selectRows(ctx, Filter{Equal: Args{b.desc.IDColumn: idv}, Limit: 1}, nil, 0)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// GetByParameters returns the first row (ordered by id) matching every
// validated parameter. A filter that validates down to nothing matches nothing.
func (b *Base) GetByParameters(ctx context.Context, args Args) (row Row, found bool, err error) {
	defer b.observe("get_by_parameters", time.Now(), &err)
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	return b.first(ctx, vals)
}

func (b *Base) first(ctx context.Context, vals Args) (Row, bool, error) {
	rows, err := b.selectRows(ctx, Filter{Equal: vals, Limit: 1}, nil, 0)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// GetOrCreate looks the row up by the natural-key subset of args and creates
// it from the full args when absent. An empty natural-key subset returns not
// found without creating. When a concurrent writer wins the insert race the
// winner's row is returned.
func (b *Base) GetOrCreate(ctx context.Context, args Args) (row Row, created bool, err error) {
	defer b.observe("get_or_create", time.Now(), &err)
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, false, err
	}
	key := make(Args, len(b.desc.NaturalKey))
	for _, name := range b.desc.NaturalKey {
		if v, ok := vals[name]; ok {
			key[name] = v
		}
	}
	if len(key) == 0 {
		return nil, false, nil
	}
	row, found, err := b.first(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return row, false, nil
	}
	row, err = b.Create(ctx, vals)
	if err == nil {
		return row, true, nil
	}
	if IsKind(err, KindConstraint) {
		winner, found, ferr := b.first(ctx, key)
		if ferr == nil && found {
			b.log.Debug("get_or_create lost insert race", "key", key)
			return winner, false, nil
		}
	}
	return nil, false, err
}

// Update applies a validated partial update to row (located by its id) and
// stamps updated_at. The id column itself cannot be changed. A Keep with a
// nil value sets the column to NULL.
func (b *Base) Update(ctx context.Context, row Row, args Args) (updated Row, err error) {
	defer b.observe("update", time.Now(), &err)
	if b.desc.ReadOnly {
		return nil, b.fail(KindValidation, "update", ErrReadOnly)
	}
	id, ok := row[b.desc.IDColumn]
	if !ok || id == nil {
		return nil, ValidationError(b.desc.Table, "update", b.desc.IDColumn, errors.New("row has no id"))
	}
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, err
	}
	vals = b.writable(vals)
	delete(vals, b.desc.IDColumn)
	if len(vals) == 0 {
		current, found, err := b.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, NotFoundError(b.desc.Table, "update", fmt.Errorf("id %v", id))
		}
		return current, nil
	}
	bld := newBuilder(b.db.Dialect)
	var sets []string
	for _, name := range sortedKeys(vals) {
		c, _ := b.desc.Column(name)
		if vals[name] == nil && c.Type != TypeJSON {
			sets = append(sets, quote(name)+" = NULL")
			continue
		}
		cv, err := Coerce(c, vals[name])
		if err != nil {
			return nil, ValidationError(b.desc.Table, "update", name, err)
		}
		sets = append(sets, quote(name)+" = "+bld.value(c, cv))
	}
	if b.desc.Timestamps {
		sets = append(sets, quote("updated_at")+" = CURRENT_TIMESTAMP")
	}
	idCol, _ := b.desc.Column(b.desc.IDColumn)
	idv, err := Coerce(idCol, id)
	if err != nil {
		return nil, ValidationError(b.desc.Table, "update", b.desc.IDColumn, err)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		quote(b.desc.Table), strings.Join(sets, ", "), quote(b.desc.IDColumn), bld.arg(idv), selectList(b.desc))
	err = b.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := b.queryRows(ctx, tx, q, bld.args)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return NotFoundError(b.desc.Table, "update", fmt.Errorf("id %v", id))
		}
		updated = rows[0]
		return nil
	})
	if err != nil {
		return nil, classify(b.db.Dialect, b.desc.Table, "update", err)
	}
	return updated, nil
}

// Search returns every row matching the validated equality parameters.
func (b *Base) Search(ctx context.Context, args Args) ([]Row, error) {
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, err
	}
	return b.SearchFilter(ctx, Filter{Equal: vals})
}

// SearchFilter returns every row matching f, ordered by id.
func (b *Base) SearchFilter(ctx context.Context, f Filter) (rows []Row, err error) {
	defer b.observe("search", time.Now(), &err)
	return b.selectRows(ctx, f, nil, 0)
}

// Stream returns a cursor over the rows matching the validated parameters.
func (b *Base) Stream(ctx context.Context, args Args) (*Cursor, error) {
	vals, err := b.ValidateFields(args)
	if err != nil {
		return nil, err
	}
	return b.StreamFilter(ctx, Filter{Equal: vals})
}

// StreamFilter returns a cursor over the rows matching f. Rows arrive in id
// order, one partition per query, so no connection is held between partitions.
func (b *Base) StreamFilter(ctx context.Context, f Filter) (*Cursor, error) {
	if _, err := newBuilder(b.db.Dialect).where(b.desc, f); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, after any, limit int) (rows []Row, err error) {
		defer b.observe("stream", time.Now(), &err)
		return b.selectRows(ctx, f, after, limit)
	}
	return newCursor(ctx, b.desc.IDColumn, b.opts.PartitionSize, f.Limit, fetch), nil
}

// All returns every row.
func (b *Base) All(ctx context.Context) ([]Row, error) {
	return b.SearchFilter(ctx, Filter{})
}

// Count returns the number of rows matching the validated parameters.
func (b *Base) Count(ctx context.Context, args Args) (n int64, err error) {
	defer b.observe("count", time.Now(), &err)
	vals, err := b.ValidateFields(args)
	if err != nil {
		return 0, err
	}
	return b.CountFilter(ctx, Filter{Equal: vals})
}

// CountFilter returns the number of rows matching f, ignoring f.Limit.
func (b *Base) CountFilter(ctx context.Context, f Filter) (int64, error) {
	bld := newBuilder(b.db.Dialect)
	preds, err := bld.where(b.desc, f)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quote(b.desc.Table), joinWhere(preds))
	var n int64
	if err := b.db.SQL.QueryRowContext(ctx, q, bld.args...).Scan(&n); err != nil {
		return 0, classify(b.db.Dialect, b.desc.Table, "count", err)
	}
	return n, nil
}

// Delete removes the row with id and reports whether it existed.
func (b *Base) Delete(ctx context.Context, id any) (deleted bool, err error) {
	defer b.observe("delete", time.Now(), &err)
	if b.desc.ReadOnly {
		return false, b.fail(KindValidation, "delete", ErrReadOnly)
	}
	idCol, _ := b.desc.Column(b.desc.IDColumn)
	idv, cerr := Coerce(idCol, id)
	if cerr != nil {
		return false, nil
	}
	bld := newBuilder(b.db.Dialect)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(b.desc.Table), quote(b.desc.IDColumn), bld.arg(idv))
	err = b.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, bld.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, classify(b.db.Dialect, b.desc.Table, "delete", err)
	}
	return deleted, nil
}

// DeleteBulk removes every row whose id is in ids, in one transaction.
func (b *Base) DeleteBulk(ctx context.Context, ids []any) (err error) {
	defer b.observe("delete_bulk", time.Now(), &err)
	if b.desc.ReadOnly {
		return b.fail(KindValidation, "delete_bulk", ErrReadOnly)
	}
	if len(ids) == 0 {
		return nil
	}
	idCol, _ := b.desc.Column(b.desc.IDColumn)
	coerced := make([]any, 0, len(ids))
	for _, id := range ids {
		v, err := Coerce(idCol, id)
		if err != nil {
			return ValidationError(b.desc.Table, "delete_bulk", b.desc.IDColumn, err)
		}
		coerced = append(coerced, v)
	}
	chunk := b.db.Dialect.MaxParams()
	err = b.db.WithTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(coerced); start += chunk {
			end := min(start+chunk, len(coerced))
			bld := newBuilder(b.db.Dialect)
			phs := make([]string, 0, end-start)
			for _, v := range coerced[start:end] {
				phs = append(phs, bld.arg(v))
			}
			q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", quote(b.desc.Table), quote(b.desc.IDColumn), strings.Join(phs, ", "))
			if _, err := tx.ExecContext(ctx, q, bld.args...); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(b.db.Dialect, b.desc.Table, "delete_bulk", err)
}

// selectRows runs one filtered, id-ordered SELECT. When after is non-nil only
// rows with a greater id are returned; limit overrides f.Limit when positive.
func (b *Base) selectRows(ctx context.Context, f Filter, after any, limit int) ([]Row, error) {
	bld := newBuilder(b.db.Dialect)
	preds, err := bld.where(b.desc, f)
	if err != nil {
		return nil, err
	}
	if after != nil {
		preds = append(preds, quote(b.desc.IDColumn)+" > "+bld.arg(after))
	}
	if limit <= 0 {
		limit = f.Limit
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", selectList(b.desc), quote(b.desc.Table), joinWhere(preds), quote(b.desc.IDColumn))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := b.queryRows(ctx, b.db.SQL, q, bld.args)
	if err != nil {
		return nil, classify(b.db.Dialect, b.desc.Table, "select", err)
	}
	return rows, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryRows runs q and scans every returned row using the descriptor's
// column types. The result set is fully drained and closed before returning.
func (b *Base) queryRows(ctx context.Context, q queryer, query string, args []any) ([]Row, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rs.Close() }()
	names, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	cells := make([]*cell, len(names))
	dest := make([]any, len(names))
	for i, name := range names {
		c, ok := b.desc.Column(name)
		typ := TypeText
		if ok {
			typ = c.Type
		}
		cells[i] = &cell{typ: typ}
		dest[i] = cells[i]
	}
	var out []Row
	for rs.Next() {
		if err := rs.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = cells[i].v
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
