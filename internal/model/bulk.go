package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BulkResult reports the outcome of InsertBulk. Accepted holds the ids of the
// inserted rows; Skipped counts rows dropped by the conflict clause.
type BulkResult struct {
	Accepted []any
	Skipped  int
}

// InsertBulk inserts rows with multi-row INSERT statements, skipping rows that
// violate the named uniqueness constraint (the descriptor's own constraint
// when empty). Rows are grouped by column set and chunked so no statement
// exceeds the dialect's parameter limit. All chunks share one transaction.
func (b *Base) InsertBulk(ctx context.Context, constraint string, rows []Args) (res BulkResult, err error) {
	defer b.observe("insert_bulk", time.Now(), &err)
	if b.desc.ReadOnly {
		return BulkResult{}, b.fail(KindValidation, "insert_bulk", ErrReadOnly)
	}
	if len(rows) == 0 {
		return BulkResult{}, nil
	}
	if constraint == "" {
		constraint = b.desc.UniqueConstraint
	}

	type group struct {
		cols []string
		rows []Args
	}
	var groups []*group
	bySig := make(map[string]*group)
	for i, args := range rows {
		vals, err := b.prepareInsert("insert_bulk", args)
		if err != nil {
			return BulkResult{}, fmt.Errorf("row %d: %w", i, err)
		}
		cols := sortedKeys(vals)
		sig := strings.Join(cols, ",")
		g, ok := bySig[sig]
		if !ok {
			g = &group{cols: cols}
			bySig[sig] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, vals)
	}

	conflict := b.db.Dialect.OnConflictDoNothing(constraint)
	err = b.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, g := range groups {
			perStmt := max(1, b.db.Dialect.MaxParams()/len(g.cols))
			for start := 0; start < len(g.rows); start += perStmt {
				end := min(start+perStmt, len(g.rows))
				ids, err := b.insertChunk(ctx, tx, g.cols, g.rows[start:end], conflict)
				if err != nil {
					return err
				}
				res.Accepted = append(res.Accepted, ids...)
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, classify(b.db.Dialect, b.desc.Table, "insert_bulk", err)
	}
	res.Skipped = len(rows) - len(res.Accepted)
	if b.opts.Observer != nil {
		b.opts.Observer.ObserveBulk(b.desc.Table, len(res.Accepted), res.Skipped)
	}
	if res.Skipped > 0 {
		b.log.Info("bulk insert skipped conflicting rows", "accepted", len(res.Accepted), "skipped", res.Skipped, "constraint", constraint)
	}
	return res, nil
}

func (b *Base) insertChunk(ctx context.Context, tx *sql.Tx, cols []string, rows []Args, conflict string) ([]any, error) {
	bld := newBuilder(b.db.Dialect)
	quoted := make([]string, len(cols))
	for i, name := range cols {
		quoted[i] = quote(name)
	}
	tuples := make([]string, len(rows))
	for i, vals := range rows {
		phs := make([]string, len(cols))
		for j, name := range cols {
			c, _ := b.desc.Column(name)
			phs[j] = bld.value(c, vals[name])
		}
		tuples[i] = "(" + strings.Join(phs, ", ") + ")"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s RETURNING %s",
		quote(b.desc.Table), strings.Join(quoted, ", "), strings.Join(tuples, ", "), conflict, quote(b.desc.IDColumn))
	rs, err := tx.QueryContext(ctx, q, bld.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rs.Close() }()
	idCol, _ := b.desc.Column(b.desc.IDColumn)
	var ids []any
	for rs.Next() {
		c := &cell{typ: idCol.Type}
		if err := rs.Scan(c); err != nil {
			return nil, err
		}
		ids = append(ids, c.v)
	}
	return ids, rs.Err()
}
