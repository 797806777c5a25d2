// Package blobstore provides content-addressable storage for backup artifacts.
// A directory shared by two stacks plays the role of a shared bucket: a backup
// written by the source can be restored by the destination through its URL.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrHashMismatch is returned when the computed hash of blob data does not match the expected hash.
var ErrHashMismatch = errors.New("blob hash mismatch")

// ErrInvalidURL is returned for backup URLs that do not point into a blob store.
var ErrInvalidURL = errors.New("invalid backup url")

// URLScheme prefixes every backup URL.
const URLScheme = "blob://"

// Info describes a stored artifact.
type Info struct {
	Hash      string               `json:"hash"`
	Type      models.MigrationType `json:"type"`
	Rows      int                  `json:"rows"`
	CreatedAt time.Time            `json:"created_at"`
}

// BlobStore defines the contract for content-addressable artifact storage.
type BlobStore interface {
	// Has checks whether a blob with the given hash exists.
	Has(ctx context.Context, hash string) (bool, error)

	// Get returns a reader for the blob data and its description.
	// Returns ErrBlobNotFound if the blob does not exist.
	Get(ctx context.Context, hash string) (io.ReadCloser, *Info, error)

	// Put stores a blob. The hash is verified against the data.
	// Idempotent: storing the same blob twice is a no-op.
	Put(ctx context.Context, hash string, r io.Reader, info Info) error

	// Delete removes a blob. No error if it doesn't exist.
	Delete(ctx context.Context, hash string) error

	// TotalCount returns the number of stored blobs.
	TotalCount(ctx context.Context) (int, error)

	// ListHashes returns all blob hashes in the store.
	ListHashes(ctx context.Context) ([]string, error)
}

// URL returns the backup URL of a blob.
func URL(hash string) string {
	return URLScheme + hash
}

// ParseURL extracts the blob hash from a backup URL.
func ParseURL(url string) (string, error) {
	hash, ok := strings.CutPrefix(url, URLScheme)
	if !ok || !validHash.MatchString(hash) {
		return "", ErrInvalidURL
	}
	return hash, nil
}
