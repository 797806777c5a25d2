package checksum

import (
	"strings"
	"testing"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/stretchr/testify/assert"
)

func rows(pairs ...any) []*models.RowMetadata {
	var out []*models.RowMetadata
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, models.NewRowMetadata(int64(pairs[i].(int)), pairs[i+1].(string)))
	}
	return out
}

func TestOf_Deterministic(t *testing.T) {
	a := Of("", rows(1, "e1", 2, "e2"))
	b := Of("", rows(1, "e1", 2, "e2"))
	assert.Equal(t, a, b)
	assert.Contains(t, a, "%2")
}

func TestOf_EmptyRange(t *testing.T) {
	assert.Equal(t, "00000000%0", Of("", nil))
}

func TestOf_EtagChangeDetected(t *testing.T) {
	a := Of("", rows(1, "e1", 2, "e2"))
	b := Of("", rows(1, "e1", 2, "e2x"))
	assert.NotEqual(t, a, b)
}

func TestOf_OrderSensitive(t *testing.T) {
	forward := Of("", rows(1, "e1", 2, "e2", 3, "e3"))
	reversed := Of("", rows(3, "e3", 2, "e2", 1, "e1"))
	assert.NotEqual(t, forward, reversed)
}

func TestOf_SaltChangesResult(t *testing.T) {
	r := rows(1, "e1")
	assert.NotEqual(t, Of("a", r), Of("b", r))
	assert.Equal(t, Of("a", r), Of("a", r))
}

func TestOf_AbsentEtag(t *testing.T) {
	withEtag := Of("", rows(1, ""))
	without := Of("", []*models.RowMetadata{{ID: 1}})
	// "1@" and "1" are different keys
	assert.NotEqual(t, withEtag, without)
}

func TestOf_KeyBoundaries(t *testing.T) {
	// Without a separator "12@a" could collide with "1" followed by "2@a".
	a := Of("", []*models.RowMetadata{{ID: 1}, models.NewRowMetadata(2, "a")})
	b := Of("", rows(12, "a"))
	assert.NotEqual(t, a, b)
}

func TestAccumulator_SumCarriesRowCount(t *testing.T) {
	acc := New("")
	for _, r := range rows(1, "a", 2, "b", 3, "c") {
		acc.Add(r)
	}
	assert.True(t, strings.HasSuffix(acc.Sum(), "%3"), acc.Sum())
}

func TestOf_SkipsNilRows(t *testing.T) {
	assert.Equal(t, Of("", rows(1, "a")), Of("", []*models.RowMetadata{nil, models.NewRowMetadata(1, "a")}))
}
