package core

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// IDSpool buffers delta ids in a temporary file so that the destination can be
// mutated only after the iterators that produced the delta have finished paging.
type IDSpool struct {
	file  *os.File
	w     *bufio.Writer
	count int64
}

// NewIDSpool creates a spool in dir, or the default temp dir when dir is empty.
func NewIDSpool(dir string) (*IDSpool, error) {
	f, err := os.CreateTemp(dir, "stackmig-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	return &IDSpool{file: f, w: bufio.NewWriter(f)}, nil
}

// WriteRow appends row.ID to the spool.
func (s *IDSpool) WriteRow(row *models.RowMetadata) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], row.ID)
	if _, err := s.w.Write(buf[:n]); err != nil {
		return fmt.Errorf("spool id %d: %w", row.ID, err)
	}
	s.count++
	return nil
}

// Len returns the number of spooled ids.
func (s *IDSpool) Len() int64 {
	return s.count
}

// Batches replays the spooled ids in write order, calling fn with up to size ids at a time.
// The slice passed to fn is reused between calls.
func (s *IDSpool) Batches(size int, fn func(ids []int64) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush spool: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool: %w", err)
	}

	r := bufio.NewReader(s.file)
	batch := make([]int64, 0, size)
	for {
		id, err := binary.ReadVarint(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read spool: %w", err)
		}
		batch = append(batch, id)
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Close removes the spool file.
func (s *IDSpool) Close() error {
	name := s.file.Name()
	closeErr := s.file.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, err)
	}
	return closeErr
}
