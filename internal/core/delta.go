package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// RowWriter receives the rows of one delta stream.
type RowWriter interface {
	WriteRow(row *models.RowMetadata) error
}

// RowWriterFunc adapts a function to RowWriter.
type RowWriterFunc func(row *models.RowMetadata) error

// WriteRow calls f(row).
func (f RowWriterFunc) WriteRow(row *models.RowMetadata) error {
	return f(row)
}

// Discard drops every row written to it.
var Discard RowWriter = RowWriterFunc(func(*models.RowMetadata) error { return nil })

// RowCollector keeps every row written to it in memory.
type RowCollector struct {
	Rows []*models.RowMetadata
}

// WriteRow appends row.
func (c *RowCollector) WriteRow(row *models.RowMetadata) error {
	c.Rows = append(c.Rows, row)
	return nil
}

// IDs returns the collected ids in write order.
func (c *RowCollector) IDs() []int64 {
	ids := make([]int64, len(c.Rows))
	for i, r := range c.Rows {
		ids[i] = r.ID
	}
	return ids
}

// DeltaBuilder merge-joins a source and a destination sequence, both sorted by id,
// into create, update and delete streams. It holds one row of each side at a time.
type DeltaBuilder struct {
	source      MetadataIterator
	destination MetadataIterator
	create      RowWriter
	update      RowWriter
	remove      RowWriter
}

// NewDeltaBuilder creates a builder. Nil writers discard their stream.
func NewDeltaBuilder(source, destination MetadataIterator, create, update, remove RowWriter) *DeltaBuilder {
	orDiscard := func(w RowWriter) RowWriter {
		if w == nil {
			return Discard
		}
		return w
	}
	return &DeltaBuilder{
		source:      source,
		destination: destination,
		create:      orDiscard(create),
		update:      orDiscard(update),
		remove:      orDiscard(remove),
	}
}

// Build runs the merge-join to completion and returns the emitted counts.
func (b *DeltaBuilder) Build(ctx context.Context) (models.DeltaCounts, error) {
	var counts models.DeltaCounts

	s, err := b.source.Next(ctx)
	if err != nil {
		return counts, fmt.Errorf("read source: %w", err)
	}
	d, err := b.destination.Next(ctx)
	if err != nil {
		return counts, fmt.Errorf("read destination: %w", err)
	}

	for s != nil || d != nil {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		advanceSource, advanceDest := false, false
		switch {
		case d == nil || (s != nil && s.ID < d.ID):
			if err := b.create.WriteRow(s); err != nil {
				return counts, fmt.Errorf("write create %d: %w", s.ID, err)
			}
			counts.Create++
			advanceSource = true
		case s == nil || s.ID > d.ID:
			if err := b.remove.WriteRow(d); err != nil {
				return counts, fmt.Errorf("write delete %d: %w", d.ID, err)
			}
			counts.Delete++
			advanceDest = true
		default:
			if !s.SameEtag(d) {
				if err := b.update.WriteRow(s); err != nil {
					return counts, fmt.Errorf("write update %d: %w", s.ID, err)
				}
				counts.Update++
			}
			advanceSource, advanceDest = true, true
		}

		if advanceSource {
			if s, err = b.source.Next(ctx); err != nil {
				return counts, fmt.Errorf("read source: %w", err)
			}
		}
		if advanceDest {
			if d, err = b.destination.Next(ctx); err != nil {
				return counts, fmt.Errorf("read destination: %w", err)
			}
		}
	}
	return counts, nil
}
