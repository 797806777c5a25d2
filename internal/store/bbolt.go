// Package store provides bbolt-based persistence for the stackmig client.
// It keeps the history of migration runs in a single embedded bbolt file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the client store.
var (
	bucketRuns     = []byte("runs")      // sortable start key -> run JSON
	bucketRunIndex = []byte("run_index") // run id -> sortable start key
)

// Store represents the bbolt database store.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Open opens the database at dbPath and creates its buckets.
func Open(dbPath string) (*Store, error) {
	st, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketRunIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}
