package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/stackmig/internal/models"
	bolt "go.etcd.io/bbolt"
)

// runKey orders runs by start time, ties broken by id.
func runKey(run *models.RunResult) []byte {
	key := make([]byte, 8, 8+len(run.ID))
	binary.BigEndian.PutUint64(key, uint64(run.StartedAt.UnixNano()))
	return append(key, run.ID...)
}

// SaveRun stores run, replacing an earlier record with the same id.
func (s *Store) SaveRun(run *models.RunResult) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketRunIndex)
		if runs == nil || index == nil {
			return fmt.Errorf("runs bucket not found")
		}

		if old := index.Get([]byte(run.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		key := runKey(run)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(run.ID), key)
	})
}

// GetRun retrieves a run by id. Returns (nil, nil) if not found.
func (s *Store) GetRun(id string) (*models.RunResult, error) {
	var run *models.RunResult

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketRunIndex)
		runs := tx.Bucket(bucketRuns)
		if index == nil || runs == nil {
			return nil
		}

		key := index.Get([]byte(id))
		if key == nil {
			return nil
		}
		data := runs.Get(key)
		if data == nil {
			return nil
		}

		run = &models.RunResult{}
		return json.Unmarshal(data, run)
	})
	return run, err
}

// ListRuns returns up to limit runs, most recent first. A limit of zero or less returns all runs.
func (s *Store) ListRuns(limit int) ([]*models.RunResult, error) {
	var out []*models.RunResult

	err := s.db.View(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil {
			return nil
		}

		c := runs.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			run := &models.RunResult{}
			if err := json.Unmarshal(v, run); err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			out = append(out, run)
		}
		return nil
	})
	return out, err
}

// LastRun returns the most recent run, or nil when none was recorded.
func (s *Store) LastRun() (*models.RunResult, error) {
	runs, err := s.ListRuns(1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}
