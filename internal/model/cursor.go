package model

import (
	"context"
	"errors"
	"iter"
)

// ErrCursorClosed is returned when reading from a closed cursor.
var ErrCursorClosed = errors.New("cursor closed")

type fetchFunc func(ctx context.Context, after any, limit int) ([]Row, error)

// Cursor iterates a result set in keyset-paginated partitions. It must be
// closed; Close is idempotent.
//
//	cur, err := base.Stream(ctx, args)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//		row := cur.Row()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	ctx       context.Context
	idColumn  string
	partition int
	limit     int
	fetch     fetchFunc

	buf     []Row
	pos     int
	row     Row
	after   any
	emitted int
	done    bool
	closed  bool
	err     error
}

func newCursor(ctx context.Context, idColumn string, partition, limit int, fetch fetchFunc) *Cursor {
	if partition <= 0 {
		partition = DefaultPartitionSize
	}
	return &Cursor{ctx: ctx, idColumn: idColumn, partition: partition, limit: limit, fetch: fetch}
}

// load fetches the next partition into the buffer. It reports false when the
// result set is exhausted or an error occurred.
func (c *Cursor) load() bool {
	if c.done || c.err != nil {
		return false
	}
	size := c.partition
	if c.limit > 0 {
		remaining := c.limit - c.emitted
		if remaining <= 0 {
			c.done = true
			return false
		}
		size = min(size, remaining)
	}
	rows, err := c.fetch(c.ctx, c.after, size)
	if err != nil {
		c.err = err
		return false
	}
	if len(rows) < size {
		c.done = true
	}
	if len(rows) == 0 {
		return false
	}
	c.after = rows[len(rows)-1][c.idColumn]
	c.buf, c.pos = rows, 0
	return true
}

// Next advances to the next row.
func (c *Cursor) Next() bool {
	if c.closed {
		if c.err == nil {
			c.err = ErrCursorClosed
		}
		return false
	}
	if c.pos >= len(c.buf) && !c.load() {
		c.row = nil
		return false
	}
	c.row = c.buf[c.pos]
	c.pos++
	c.emitted++
	return true
}

// Row returns the current row.
func (c *Cursor) Row() Row { return c.row }

// Err returns the first error encountered.
func (c *Cursor) Err() error { return c.err }

// NextPartition returns the remaining buffered rows, or the next partition
// when the buffer is drained. It returns (nil, nil) once exhausted.
func (c *Cursor) NextPartition() ([]Row, error) {
	if c.closed {
		return nil, ErrCursorClosed
	}
	if c.pos >= len(c.buf) && !c.load() {
		return nil, c.err
	}
	rows := c.buf[c.pos:]
	c.pos = len(c.buf)
	c.emitted += len(rows)
	return rows, nil
}

// All yields every remaining row, stopping at the first error. The cursor is
// closed when iteration ends.
func (c *Cursor) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		defer func() { _ = c.Close() }()
		for c.Next() {
			if !yield(c.row, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Collect drains the cursor into a slice and closes it.
func (c *Cursor) Collect() ([]Row, error) {
	var out []Row
	for row, err := range c.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
