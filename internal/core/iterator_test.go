package core

import (
	"context"
	"testing"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, it MetadataIterator) []*models.RowMetadata {
	t.Helper()
	var out []*models.RowMetadata
	for {
		r, err := it.Next(context.Background())
		require.NoError(t, err)
		if r == nil {
			return out
		}
		out = append(out, r)
	}
}

func TestRangeMetadataIterator_PaginationForEveryBatchSize(t *testing.T) {
	const n = 7
	m := remote.NewMockClient(nil, "NODE")
	for _, id := range []int64{40, 10, 70, 20, 60, 30, 50} {
		m.AddRow("NODE", row(id, "e"))
	}

	for k := int64(1); k <= n+2; k++ {
		m.Calls = make(map[string]int)
		it := NewRangeMetadataIterator(m, "NODE", k, 0, 100)
		got := drain(t, it)

		assert.Equal(t, []int64{10, 20, 30, 40, 50, 60, 70}, ids(got), "batch size %d", k)

		wantPages := n/int(k) + 1
		assert.Equal(t, wantPages, m.CallCount("GetRowMetadataByRange"), "batch size %d", k)
		assert.Equal(t, wantPages, it.Pages())

		r, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Nil(t, r, "exhausted iterator stays exhausted")
		assert.Equal(t, wantPages, m.CallCount("GetRowMetadataByRange"))
	}
}

func TestRangeMetadataIterator_RangeIsInclusive(t *testing.T) {
	m := remote.NewMockClient(nil, "NODE")
	for id := int64(1); id <= 9; id++ {
		m.AddRow("NODE", row(id, "e"))
	}

	got := drain(t, NewRangeMetadataIterator(m, "NODE", 2, 3, 6))
	assert.Equal(t, []int64{3, 4, 5, 6}, ids(got))
}

func TestRangeMetadataIterator_EmptyRange(t *testing.T) {
	m := remote.NewMockClient(nil, "NODE")
	got := drain(t, NewRangeMetadataIterator(m, "NODE", 10, 0, 100))
	assert.Empty(t, got)
	assert.Equal(t, 1, m.CallCount("GetRowMetadataByRange"))
}

func TestRangeMetadataIterator_ErrorIsNotRetried(t *testing.T) {
	m := remote.NewMockClient(nil, "NODE")
	m.AddRow("NODE", row(1, "e"))
	m.Failures["GetRowMetadataByRange"] = 1

	it := NewRangeMetadataIterator(m, "NODE", 10, 0, 100)
	_, err := it.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list NODE rows")
	assert.Equal(t, 1, m.CallCount("GetRowMetadataByRange"))
}

func TestSliceIterator_SkipsNilEntries(t *testing.T) {
	it := NewSliceIterator(nil, row(1, "a"), nil, nil, row(3, "c"), nil)
	assert.Equal(t, []int64{1, 3}, ids(drain(t, it)))
}
