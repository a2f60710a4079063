package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordKind(t *testing.T) {
	for _, k := range RecordKinds() {
		got, err := ParseRecordKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseRecordKind("Sensor")
	assert.Error(t, err)
}

func TestCollectionDate(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*3600)
	ts := time.Date(2023, 10, 1, 20, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC), CollectionDate(ts))
	assert.Equal(t, "2023-10-02", CollectionDate(ts).Format(DateLayout))
}
