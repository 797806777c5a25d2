package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
)

// MetadataIterator is a forward-only sequence of rows sorted by id.
// Next returns (nil, nil) once the sequence is exhausted.
type MetadataIterator interface {
	Next(ctx context.Context) (*models.RowMetadata, error)
}

// RangeMetadataIterator pages through the rows of one type with id in [minID, maxID].
// It is single-pass and never retries a failed page.
type RangeMetadataIterator struct {
	client    remote.AdminClient
	typ       models.MigrationType
	batchSize int64
	minID     int64
	maxID     int64

	offset int64
	page   []*models.RowMetadata
	pos    int
	done   bool
	pages  int
}

// NewRangeMetadataIterator creates an iterator over [minID, maxID] inclusive.
func NewRangeMetadataIterator(client remote.AdminClient, t models.MigrationType, batchSize, minID, maxID int64) *RangeMetadataIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RangeMetadataIterator{
		client:    client,
		typ:       t,
		batchSize: batchSize,
		minID:     minID,
		maxID:     maxID,
	}
}

// Next returns the next row, or nil at the end of the range.
func (it *RangeMetadataIterator) Next(ctx context.Context) (*models.RowMetadata, error) {
	for {
		for it.pos < len(it.page) {
			row := it.page[it.pos]
			it.pos++
			if row != nil {
				return row, nil
			}
		}
		if it.done {
			return nil, nil
		}
		if err := it.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

func (it *RangeMetadataIterator) fetch(ctx context.Context) error {
	res, err := it.client.GetRowMetadataByRange(ctx, it.typ, it.minID, it.maxID, it.batchSize, it.offset)
	if err != nil {
		return fmt.Errorf("list %s rows [%d, %d] at offset %d: %w", it.typ, it.minID, it.maxID, it.offset, err)
	}
	it.pages++
	it.offset += it.batchSize
	it.page = res.List
	it.pos = 0
	if int64(len(res.List)) < it.batchSize {
		it.done = true
	}
	return nil
}

// Pages returns the number of pages fetched so far.
func (it *RangeMetadataIterator) Pages() int {
	return it.pages
}

// SliceIterator serves rows from memory. Nil entries are skipped.
type SliceIterator struct {
	rows []*models.RowMetadata
	pos  int
}

// NewSliceIterator creates an iterator over rows, which must already be sorted by id.
func NewSliceIterator(rows ...*models.RowMetadata) *SliceIterator {
	return &SliceIterator{rows: rows}
}

// Next returns the next non-nil row, or nil at the end.
func (it *SliceIterator) Next(_ context.Context) (*models.RowMetadata, error) {
	for it.pos < len(it.rows) {
		row := it.rows[it.pos]
		it.pos++
		if row != nil {
			return row, nil
		}
	}
	return nil, nil
}
