// Package checksum implements the range fingerprint compared across stacks.
//
// The accumulator is a running CRC-32 (IEEE) over "id@etag" keys, so it is
// sensitive to both content and feed order. Callers always feed rows in
// ascending id order, which makes equal ranges produce equal checksums.
package checksum

import (
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// separator terminates each key so that "1@a"+"2" and "1@a2" hash differently.
const separator = '\n'

// Accumulator builds a range checksum incrementally.
type Accumulator struct {
	crc   hash.Hash32
	count int64
}

// New returns an accumulator seeded with salt. An empty salt is allowed.
func New(salt string) *Accumulator {
	a := &Accumulator{crc: crc32.NewIEEE()}
	if salt != "" {
		a.crc.Write([]byte(salt))
		a.crc.Write([]byte{separator})
	}
	return a
}

// Add feeds one row into the checksum.
func (a *Accumulator) Add(row *models.RowMetadata) {
	a.crc.Write([]byte(row.ChecksumKey()))
	a.crc.Write([]byte{separator})
	a.count++
}

// Sum returns the checksum string "<crc32 hex>%<count>".
func (a *Accumulator) Sum() string {
	return fmt.Sprintf("%08x%%%d", a.crc.Sum32(), a.count)
}

// Of computes the checksum of rows in the given order.
func Of(salt string, rows []*models.RowMetadata) string {
	a := New(salt)
	for _, r := range rows {
		if r != nil {
			a.Add(r)
		}
	}
	return a.Sum()
}
