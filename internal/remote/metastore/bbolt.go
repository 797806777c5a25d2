package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs   = []byte("jobs")
	bucketStatus = []byte("status")
)

var keyStackStatus = []byte("current")

// BboltJobStore implements JobStore using bbolt.
type BboltJobStore struct {
	db *bolt.DB
}

var _ JobStore = (*BboltJobStore)(nil)

// NewBboltJobStore opens or creates a bbolt database at the given path.
func NewBboltJobStore(dbPath string) (*BboltJobStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	// Create buckets
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketJobs, bucketStatus} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltJobStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltJobStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveJob inserts or replaces a job.
func (s *BboltJobStore) SaveJob(_ context.Context, job *models.BackupRestoreStatus) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

// GetJob retrieves a job by ID. Returns ErrNotFound if missing.
func (s *BboltJobStore) GetJob(_ context.Context, id string) (*models.BackupRestoreStatus, error) {
	var job *models.BackupRestoreStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		job = &models.BackupRestoreStatus{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns every stored job.
func (s *BboltJobStore) ListJobs(_ context.Context) ([]*models.BackupRestoreStatus, error) {
	var jobs []*models.BackupRestoreStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			job := &models.BackupRestoreStatus{}
			if err := json.Unmarshal(v, job); err != nil {
				return fmt.Errorf("unmarshal job: %w", err)
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	return jobs, err
}

// GetStatus returns the stack status. A stack that never stored one is READ_WRITE.
func (s *BboltJobStore) GetStatus(_ context.Context) (*models.StackStatus, error) {
	status := &models.StackStatus{Status: models.StatusReadWrite}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStatus).Get(keyStackStatus)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, status)
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// SetStatus stores the stack status.
func (s *BboltJobStore) SetStatus(_ context.Context, status *models.StackStatus) error {
	if !status.Status.Valid() {
		return fmt.Errorf("invalid stack status %q", status.Status)
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).Put(keyStackStatus, data)
	})
}
