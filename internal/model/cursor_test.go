package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pager serves n integer-id rows through the fetch contract.
func pager(n int, calls *int, failAt int) fetchFunc {
	return func(_ context.Context, after any, limit int) ([]Row, error) {
		*calls++
		if failAt > 0 && *calls == failAt {
			return nil, errors.New("fetch failed")
		}
		start := int64(0)
		if after != nil {
			start = after.(int64)
		}
		var rows []Row
		for id := start + 1; id <= int64(n) && len(rows) < limit; id++ {
			rows = append(rows, Row{"id": id, "name": fmt.Sprintf("row-%d", id)})
		}
		return rows, nil
	}
}

func TestCursorIteratesAcrossPartitions(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 0, pager(25, &calls, 0))
	defer func() { _ = cur.Close() }()
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Row()["id"].(int64))
	}
	require.NoError(t, cur.Err())
	assert.Len(t, ids, 25)
	assert.Equal(t, int64(25), ids[24])
	assert.Equal(t, 3, calls)
}

func TestCursorExactMultipleFetchesTrailingEmptyPage(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 0, pager(20, &calls, 0))
	rows, err := cur.Collect()
	require.NoError(t, err)
	assert.Len(t, rows, 20)
	assert.Equal(t, 3, calls)
}

func TestCursorNextPartition(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 0, pager(15, &calls, 0))
	defer func() { _ = cur.Close() }()

	require.True(t, cur.Next())
	first, err := cur.NextPartition()
	require.NoError(t, err)
	assert.Len(t, first, 9, "remaining rows of the buffered partition")

	second, err := cur.NextPartition()
	require.NoError(t, err)
	assert.Len(t, second, 5)

	done, err := cur.NextPartition()
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestCursorLimit(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 12, pager(100, &calls, 0))
	rows, err := cur.Collect()
	require.NoError(t, err)
	assert.Len(t, rows, 12)
	assert.Equal(t, 2, calls)
}

func TestCursorPropagatesErrors(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 0, pager(30, &calls, 2))
	rows, err := cur.Collect()
	require.Error(t, err)
	assert.Nil(t, rows)
}

func TestCursorAllStopsEarlyAndCloses(t *testing.T) {
	calls := 0
	cur := newCursor(context.Background(), "id", 10, 0, pager(30, &calls, 0))
	seen := 0
	for row, err := range cur.All() {
		require.NoError(t, err)
		require.NotNil(t, row)
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), ErrCursorClosed)
	_, err := cur.NextPartition()
	assert.ErrorIs(t, err, ErrCursorClosed)
	assert.NoError(t, cur.Close())
}
